package tests

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"

	"github.com/notevault/server/internal/mail"
)

// TruncateTables empties every application table for a clean test state.
func TruncateTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, "TRUNCATE TABLE notes, challenges, users CASCADE")
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

// Outbox is a mail.Sender that keeps messages instead of delivering them.
type Outbox struct {
	mu   sync.Mutex
	sent []mail.Message
	fail error
}

func (o *Outbox) Send(ctx context.Context, msg mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return o.fail
	}
	o.sent = append(o.sent, msg)
	return nil
}

// FailWith makes every following Send return err. A nil err restores delivery.
func (o *Outbox) FailWith(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fail = err
}

// LastCode returns the code in the newest message sent to email.
func (o *Outbox) LastCode(email string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.sent) - 1; i >= 0; i-- {
		if o.sent[i].To == email {
			code := codePattern.FindString(o.sent[i].Text)
			return code, code != ""
		}
	}
	return "", false
}

// Len returns the number of delivered messages.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}
