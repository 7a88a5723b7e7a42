package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/vnmchuo/medcost/internal/sheetdb"
)

// sheetUser is a row of the users sheet. The password column holds a bcrypt
// hash, or plaintext for rows created before hashing was introduced.
type sheetUser struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SheetDBUserStore struct {
	client *sheetdb.Client
}

func NewSheetDBUserStore(client *sheetdb.Client) *SheetDBUserStore {
	return &SheetDBUserStore{client: client}
}

func (s *SheetDBUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	var rows []sheetUser
	if err := s.client.Search(ctx, url.Values{"email": {email}}, &rows); err != nil {
		return nil, fmt.Errorf("failed to search users sheet: %w", err)
	}
	// SheetDB search treats * as a wildcard, so only an exact email match counts.
	for _, row := range rows {
		if strings.EqualFold(strings.TrimSpace(row.Email), email) && row.Password != "" {
			return &User{Email: row.Email, Name: row.Name, PasswordHash: row.Password}, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *SheetDBUserStore) Create(ctx context.Context, user *User) error {
	row := sheetUser{Name: user.Name, Email: user.Email, Password: user.PasswordHash}
	if err := s.client.Create(ctx, row); err != nil {
		return fmt.Errorf("failed to append user row: %w", err)
	}
	user.CreatedAt = time.Now().UTC()
	return nil
}
