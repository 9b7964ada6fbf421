package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/relaycrm/relay-go/internal/domain"
	"github.com/relaycrm/relay-go/internal/failure"
	"github.com/relaycrm/relay-go/internal/repo"
)

type RoutingStore struct {
	db DB
}

const (
	selectContactQuery = `SELECT c.email, c.first_name, c.last_name, a.name
	 FROM sequence_members m
	 JOIN contacts c ON c.id = m.contact_id
	 LEFT JOIN accounts a ON a.id = c.account_id
	 WHERE m.id = $1`

	// The active default mailbox wins, then the oldest active one.
	selectDeliveryRouteQuery = `SELECT c.email, c.first_name, c.last_name, a.name,
		p.email, p.full_name, mb.email, mb.display_name
	 FROM sequence_members m
	 JOIN contacts c ON c.id = m.contact_id
	 LEFT JOIN accounts a ON a.id = c.account_id
	 JOIN sequences s ON s.id = m.sequence_id
	 LEFT JOIN profiles p ON p.id = s.owner_id
	 LEFT JOIN LATERAL (
		SELECT email, display_name
		FROM mailbox_connections
		WHERE user_id = s.owner_id AND is_active = true
		ORDER BY is_default DESC, created_at ASC
		LIMIT 1
	 ) mb ON true
	 WHERE m.id = $1`
)

func NewRoutingStore(db DB) *RoutingStore {
	if db == nil {
		return nil
	}
	return &RoutingStore{db: db}
}

func (s *RoutingStore) GetContact(ctx context.Context, memberID string) (domain.Contact, error) {
	if s == nil || s.db == nil {
		return domain.Contact{}, fmt.Errorf("routing store not initialized")
	}
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return domain.Contact{}, fmt.Errorf("member id is required")
	}
	var email, first, last, company sql.NullString
	err := s.db.QueryRowContext(ctx, selectContactQuery, memberID).Scan(&email, &first, &last, &company)
	if err != nil {
		return domain.Contact{}, classify(handleNotFound(err), "get contact")
	}
	return domain.Contact{
		Email:     strings.TrimSpace(email.String),
		FirstName: strings.TrimSpace(first.String),
		LastName:  strings.TrimSpace(last.String),
		Company:   strings.TrimSpace(company.String),
	}, nil
}

func (s *RoutingStore) GetDeliveryRoute(ctx context.Context, memberID string) (domain.DeliveryRoute, error) {
	if s == nil || s.db == nil {
		return domain.DeliveryRoute{}, fmt.Errorf("routing store not initialized")
	}
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return domain.DeliveryRoute{}, fmt.Errorf("member id is required")
	}
	var email, first, last, company sql.NullString
	var ownerEmail, ownerName, mailboxEmail, mailboxName sql.NullString
	err := s.db.QueryRowContext(ctx, selectDeliveryRouteQuery, memberID).Scan(
		&email, &first, &last, &company,
		&ownerEmail, &ownerName, &mailboxEmail, &mailboxName,
	)
	if err != nil {
		return domain.DeliveryRoute{}, classify(handleNotFound(err), "get delivery route")
	}
	route := domain.DeliveryRoute{
		Contact: domain.Contact{
			Email:     strings.TrimSpace(email.String),
			FirstName: strings.TrimSpace(first.String),
			LastName:  strings.TrimSpace(last.String),
			Company:   strings.TrimSpace(company.String),
		},
	}
	switch {
	case strings.TrimSpace(mailboxEmail.String) != "":
		name := strings.TrimSpace(mailboxName.String)
		if name == "" {
			name = strings.TrimSpace(ownerName.String)
		}
		route.Sender = domain.Sender{Email: strings.TrimSpace(mailboxEmail.String), Name: name, Mailbox: true}
	case strings.TrimSpace(ownerEmail.String) != "":
		route.Sender = domain.Sender{Email: strings.TrimSpace(ownerEmail.String), Name: strings.TrimSpace(ownerName.String)}
	default:
		return domain.DeliveryRoute{}, failure.New(failure.KindPermanent, "no sender address configured for sequence owner")
	}
	if route.Contact.Email == "" {
		return domain.DeliveryRoute{}, failure.New(failure.KindPermanent, "contact has no email address")
	}
	return route, nil
}

var _ repo.RoutingRepository = (*RoutingStore)(nil)
