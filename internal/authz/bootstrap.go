package authz

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/cadencehq/cadence/internal/ids"
	"github.com/cadencehq/cadence/internal/obs"
)

const (
	slugMaxLen      = 50
	slugSuffixTries = 5
	randomSuffixLen = 4
	orgNameMinLen   = 2
	orgNameMaxLen   = 100
)

// defaultDepartments are seeded when the caller opts in at creation.
var defaultDepartments = []string{"General", "Operations", "Finance"}

// Bootstrapper creates organizations with their owner membership and seed
// departments in one transaction.
type Bootstrapper struct {
	store BootstrapStore
	now   func() time.Time
}

// NewBootstrapper builds a bootstrapper over the store.
func NewBootstrapper(store BootstrapStore) (*Bootstrapper, error) {
	if store == nil {
		return nil, errors.New("bootstrap store is required")
	}
	return &Bootstrapper{store: store, now: time.Now}, nil
}

// CreateInput is the org creation request.
type CreateInput struct {
	Name            string
	OwnerID         string
	SeedDepartments bool
}

// Create generates a unique slug and commits the organization, the owner
// membership, and optional default departments atomically.
func (b *Bootstrapper) Create(ctx context.Context, in CreateInput) (*Organization, error) {
	name := strings.TrimSpace(in.Name)
	if len(name) < orgNameMinLen || len(name) > orgNameMaxLen {
		return nil, fmt.Errorf("%w: organization name must be %d-%d characters", ErrInvalidInput, orgNameMinLen, orgNameMaxLen)
	}
	if in.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}

	slug, err := b.uniqueSlug(ctx, name)
	if err != nil {
		return nil, err
	}

	now := b.now().UTC()
	org := &Organization{
		ID:        ids.New(),
		OwnerID:   in.OwnerID,
		Slug:      slug,
		Name:      name,
		CreatedAt: now,
	}
	owner := &Membership{
		ID:        ids.New(),
		UserID:    in.OwnerID,
		OrgID:     org.ID,
		Role:      RoleOwner,
		Status:    StatusActive,
		CreatedAt: now,
	}
	var departments []*Department
	if in.SeedDepartments {
		for _, deptName := range defaultDepartments {
			departments = append(departments, &Department{
				ID:    ids.New(),
				OrgID: org.ID,
				Name:  deptName,
			})
		}
	}

	if err := b.store.CreateOrganization(ctx, org, owner, departments); err != nil {
		return nil, err
	}
	obs.Info("authz.org.created", map[string]any{
		"org_id": org.ID, "slug": org.Slug, "owner_id": in.OwnerID,
	})
	return org, nil
}

// uniqueSlug tries the base slug, then numbered suffixes, then a random
// suffix. The unique index on the slug column is the real arbiter; this
// check only keeps the happy path cheap.
func (b *Bootstrapper) uniqueSlug(ctx context.Context, name string) (string, error) {
	base := Slugify(name)
	if base == "" {
		base = "org"
	}

	candidates := make([]string, 0, slugSuffixTries+1)
	candidates = append(candidates, base)
	for i := 1; i <= slugSuffixTries; i++ {
		candidates = append(candidates, fmt.Sprintf("%s-%d", base, i))
	}
	for _, candidate := range candidates {
		taken, err := b.store.SlugExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}

	buf := make([]byte, randomSuffixLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate slug suffix: %w", err)
	}
	candidate := fmt.Sprintf("%s-%s", base, hex.EncodeToString(buf))
	taken, err := b.store.SlugExists(ctx, candidate)
	if err != nil {
		return "", err
	}
	if taken {
		return "", ErrSlugExhausted
	}
	return candidate, nil
}

// Slugify lowercases the name and collapses runs of non-alphanumerics into
// single hyphens.
func Slugify(name string) string {
	var sb strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) && r < unicode.MaxASCII, unicode.IsDigit(r) && r < unicode.MaxASCII:
			sb.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				sb.WriteByte('-')
				lastHyphen = true
			}
		}
		if sb.Len() >= slugMaxLen {
			break
		}
	}
	return strings.Trim(sb.String(), "-")
}
