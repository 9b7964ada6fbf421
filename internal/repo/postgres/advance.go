package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaycrm/relay-go/internal/repo"
)

type MemberAdvancer struct {
	db DB
}

const advanceMemberQuery = `SELECT advance_sequence_member($1::uuid)`

func NewMemberAdvancer(db DB) *MemberAdvancer {
	if db == nil {
		return nil
	}
	return &MemberAdvancer{db: db}
}

// AdvanceMember runs the stored advancement routine, which owns the member
// cursor and the creation of the next execution row.
func (a *MemberAdvancer) AdvanceMember(ctx context.Context, memberID string) error {
	if a == nil || a.db == nil {
		return fmt.Errorf("member advancer not initialized")
	}
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return fmt.Errorf("member id is required")
	}
	if _, err := a.db.ExecContext(ctx, advanceMemberQuery, memberID); err != nil {
		return classify(err, "advance sequence member")
	}
	return nil
}

var _ repo.MemberAdvancer = (*MemberAdvancer)(nil)
