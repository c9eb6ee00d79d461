package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-workforce/internal/audit"
	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

// RepositoryPort describes repository operations used by the deduplicator.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListRecords(ctx context.Context) ([]ImportedRecord, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	ListRecords(ctx context.Context) ([]ImportedRecord, error)
	InsertRecord(ctx context.Context, rec ImportedRecord) (ImportedRecord, error)
	DeleteRecords(ctx context.Context, ids []int64) (int64, error)
}

// AuditPort receives best-effort audit entries.
type AuditPort interface {
	Record(ctx context.Context, entry audit.Entry)
}

// Service reconciles externally imported contact records.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the deduplicator. audit may be nil.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// List returns every imported record.
func (s *Service) List(ctx context.Context) ([]ImportedRecord, error) {
	return s.repo.ListRecords(ctx)
}

// Import stores a batch of records in one transaction.
func (s *Service) Import(ctx context.Context, inputs []ImportInput) ([]ImportedRecord, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one record required", shared.ErrValidation)
	}
	for i := range inputs {
		if err := shared.ValidateStruct(inputs[i]); err != nil {
			return nil, fmt.Errorf("dedup: record %d: %w", i, err)
		}
	}
	now := s.now().UTC()
	out := make([]ImportedRecord, 0, len(inputs))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, in := range inputs {
			rec := ImportedRecord{
				ExternalID: trimmed(in.ExternalID),
				Name:       strings.TrimSpace(in.Name),
				Phone:      strings.TrimSpace(in.Phone),
				Email:      strings.TrimSpace(in.Email),
				Source:     strings.TrimSpace(in.Source),
				CreatedAt:  now,
			}
			saved, err := tx.InsertRecord(ctx, rec)
			if err != nil {
				return err
			}
			out = append(out, saved)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dedup: import: %w", err)
	}
	return out, nil
}

// Run executes the strict pass then the legacy pass. Each pass commits on its
// own, so a failing legacy pass keeps the strict deletions. Running on an
// already deduplicated set deletes nothing.
func (s *Service) Run(ctx context.Context, actorID int64) (Report, error) {
	var report Report

	strict, err := s.runPass(ctx, PassStrict, planStrict, actorID)
	if err != nil {
		return report, err
	}
	report.StrictDeleted = len(strict)
	report.add(strict)

	legacy, err := s.runPass(ctx, PassLegacy, planLegacy, actorID)
	if err != nil {
		return report, err
	}
	report.LegacyDeleted = len(legacy)
	report.add(legacy)
	return report, nil
}

func (r *Report) add(deletions []Deletion) {
	for _, d := range deletions {
		r.DeletedIDs = append(r.DeletedIDs, d.ID)
		r.Deletions = append(r.Deletions, d)
	}
}

func (s *Service) runPass(ctx context.Context, pass Pass, plan func([]ImportedRecord) []Deletion, actorID int64) ([]Deletion, error) {
	var deletions []Deletion
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		records, err := tx.ListRecords(ctx)
		if err != nil {
			return err
		}
		deletions = plan(records)
		if len(deletions) == 0 {
			return nil
		}
		ids := make([]int64, len(deletions))
		for i, d := range deletions {
			ids[i] = d.ID
		}
		deleted, err := tx.DeleteRecords(ctx, ids)
		if err != nil {
			return err
		}
		if deleted != int64(len(ids)) {
			return fmt.Errorf("%w: deleted %d of %d records", shared.ErrConcurrencyConflict, deleted, len(ids))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dedup: %s pass: %w", pass, err)
	}

	s.logger.Info("dedup pass complete",
		slog.String("pass", string(pass)),
		slog.Int("deleted", len(deletions)))

	if s.audit != nil {
		at := s.now().UTC()
		for _, d := range deletions {
			s.audit.Record(ctx, audit.Entry{
				EntityType: EntityType,
				EntityID:   strconv.FormatInt(d.ID, 10),
				Action:     audit.ActionDedupDelete,
				ActorID:    actorID,
				Timestamp:  at,
				Metadata: map[string]any{
					"pass":    string(pass),
					"kept_id": d.KeptID,
				},
			})
		}
	}
	return deletions, nil
}

// planStrict keeps the newest record of every external id group.
// Ties on CreatedAt go to the highest ID.
func planStrict(records []ImportedRecord) []Deletion {
	groups := make(map[string][]ImportedRecord)
	for _, r := range records {
		if key := r.externalKey(); key != "" {
			groups[key] = append(groups[key], r)
		}
	}
	var out []Deletion
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		keeper := group[0]
		for _, r := range group[1:] {
			if newer(r, keeper) {
				keeper = r
			}
		}
		for _, r := range group {
			if r.ID != keeper.ID {
				out = append(out, Deletion{ID: r.ID, KeptID: keeper.ID, Pass: PassStrict})
			}
		}
	}
	sortDeletions(out)
	return out
}

// planLegacy removes records without an external id that share a contact
// fingerprint with a record that has one.
func planLegacy(records []ImportedRecord) []Deletion {
	owners := make(map[string]int64)
	for _, r := range records {
		if !r.HasExternalID() {
			continue
		}
		for _, fp := range Fingerprints(r) {
			if owner, ok := owners[fp]; !ok || r.ID < owner {
				owners[fp] = r.ID
			}
		}
	}
	var out []Deletion
	for _, r := range records {
		if r.HasExternalID() {
			continue
		}
		for _, fp := range Fingerprints(r) {
			if owner, ok := owners[fp]; ok {
				out = append(out, Deletion{ID: r.ID, KeptID: owner, Pass: PassLegacy})
				break
			}
		}
	}
	sortDeletions(out)
	return out
}

func newer(a, b ImportedRecord) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func sortDeletions(d []Deletion) {
	sort.Slice(d, func(i, j int) bool { return d[i].ID < d[j].ID })
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
