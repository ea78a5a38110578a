// Package ingest implements the write side: draft datasets, upload grants,
// local uploads and the publish, append and archive transactions.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rushilcs/data-viewer/internal/audit"
	"github.com/rushilcs/data-viewer/internal/grants"
	"github.com/rushilcs/data-viewer/internal/manifest"
	"github.com/rushilcs/data-viewer/internal/models"
	"github.com/rushilcs/data-viewer/pkg/metrics"
	"github.com/rushilcs/data-viewer/pkg/storage"
)

// UploadRoute is the local-mode upload callback, relative to the public base URL.
const UploadRoute = "/api/ingest/assets/%s/upload"

// Operation names used in metrics and audit.
const (
	OpPublish = "publish"
	OpAppend  = "append"
)

// ManifestValidator validates manifests. *manifest.Validator satisfies it.
type ManifestValidator interface {
	Validate(ctx context.Context, orgID, datasetID uuid.UUID, m manifest.Manifest) ([]manifest.Item, error)
}

// Options tunes a Service.
type Options struct {
	UploadTTL     time.Duration
	PublicBaseURL string
	MaxFiles      int
	Now           func() time.Time
}

// Service coordinates ingestion.
type Service struct {
	store     Store
	uow       UnitOfWork
	validator ManifestValidator
	objects   storage.Backend
	signer    *grants.Signer
	opts      Options
	logger    *zap.Logger
}

// NewService creates an ingest service.
func NewService(store Store, uow UnitOfWork, validator ManifestValidator, objects storage.Backend, signer *grants.Signer, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.UploadTTL <= 0 {
		opts.UploadTTL = 5 * time.Minute
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = DefaultMaxFiles
	}
	return &Service{
		store:     store,
		uow:       uow,
		validator: validator,
		objects:   objects,
		signer:    signer,
		opts:      opts,
		logger:    logger,
	}
}

// Result is returned by Publish, Append and Archive.
type Result struct {
	DatasetID uuid.UUID `json:"dataset_id"`
	Status    string    `json:"status"`
	ItemCount int       `json:"item_count,omitempty"`
}

// CreateDatasetInput is the body of a draft dataset.
type CreateDatasetInput struct {
	Name        string   `json:"name" binding:"required"`
	Description *string  `json:"description"`
	Tags        []string `json:"tags"`
}

// CreateDataset inserts a draft dataset owned by id's organization.
func (s *Service) CreateDataset(ctx context.Context, id models.Identity, in CreateDatasetInput) (*models.Dataset, error) {
	if !id.CanManage() {
		return nil, ErrForbidden
	}
	d := &models.Dataset{
		OrgID:           id.OrgID,
		Name:            strings.TrimSpace(in.Name),
		Description:     in.Description,
		Tags:            dedupeTags(in.Tags),
		CreatedByUserID: id.UserID,
	}
	err := s.uow.InTx(ctx, func(tx Store) error {
		if err := tx.CreateDataset(ctx, d); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.NewEvent(ctx, id, audit.EventCreateDataset, map[string]any{
			"dataset_id": d.ID.String(),
			"name":       d.Name,
		}))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("dataset created", zap.String("dataset_id", d.ID.String()), zap.String("org_id", id.OrgID.String()))
	return d, nil
}

// UploadGrant tells the client where to put one file.
type UploadGrant struct {
	AssetID    uuid.UUID `json:"asset_id"`
	UploadURL  string    `json:"upload_url"`
	StorageKey string    `json:"storage_key"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// IssueUploadGrants registers pending assets for files and returns one upload URL each.
// File spec violations are returned as a *FileSpecError.
func (s *Service) IssueUploadGrants(ctx context.Context, id models.Identity, datasetID uuid.UUID, files []FileSpec) ([]UploadGrant, error) {
	if !id.CanManage() {
		return nil, ErrForbidden
	}
	ds, err := s.store.GetDataset(ctx, id.OrgID, datasetID)
	if err != nil {
		return nil, err
	}
	if ds.Status == models.DatasetStatusArchived {
		return nil, conflict(ReasonArchived)
	}
	if errs := ValidateFiles(files, s.opts.MaxFiles); len(errs) > 0 {
		return nil, &FileSpecError{Errors: errs}
	}

	assets := make([]models.Asset, len(files))
	for i, f := range files {
		assetID := uuid.New()
		var sum *string
		if f.SHA256 != nil {
			v := strings.ToLower(*f.SHA256)
			sum = &v
		}
		assets[i] = models.Asset{
			ID:          assetID,
			OrgID:       id.OrgID,
			DatasetID:   datasetID,
			Kind:        f.Kind,
			StorageKey:  StorageKey(id.OrgID, datasetID, assetID, SanitizeFilename(f.Filename)),
			ContentType: storage.NormalizeContentType(f.ContentType),
			ByteSize:    f.ByteSize,
			SHA256:      sum,
		}
	}
	err = s.uow.InTx(ctx, func(tx Store) error {
		if err := tx.CreateAssets(ctx, assets); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.NewEvent(ctx, id, audit.EventIssueUploadGrants, map[string]any{
			"dataset_id": datasetID.String(),
			"file_count": len(assets),
		}))
	})
	if err != nil {
		return nil, err
	}

	out := make([]UploadGrant, len(assets))
	for i, a := range assets {
		u, exp, err := s.uploadURL(ctx, id, a)
		if err != nil {
			return nil, err
		}
		out[i] = UploadGrant{AssetID: a.ID, UploadURL: u, StorageKey: a.StorageKey, ExpiresAt: exp}
	}
	metrics.GrantsMinted.WithLabelValues(grants.OpPut, "false").Add(float64(len(out)))
	return out, nil
}

func (s *Service) uploadURL(ctx context.Context, id models.Identity, a models.Asset) (string, time.Time, error) {
	if p, ok := s.objects.(storage.Presigner); ok {
		exp := s.opts.Now().Add(s.opts.UploadTTL)
		u, err := p.PresignPut(ctx, a.StorageKey, a.ContentType, a.ByteSize, s.opts.UploadTTL)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("presign upload: %w", err)
		}
		return u, exp, nil
	}
	datasetID := a.DatasetID
	token, exp, err := s.signer.Mint(grants.Claims{
		AssetID:     a.ID,
		OrgID:       a.OrgID,
		UserID:      id.UserID,
		Op:          grants.OpPut,
		DatasetID:   &datasetID,
		ContentType: a.ContentType,
		ByteSize:    a.ByteSize,
	}, s.opts.UploadTTL)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("mint upload grant: %w", err)
	}
	u, err := storage.CallbackURL(s.opts.PublicBaseURL, fmt.Sprintf(UploadRoute, a.ID), storage.CallbackQuery{Token: token})
	if err != nil {
		return "", time.Time{}, err
	}
	return u, exp, nil
}

// Upload stores the body of a local-mode upload authorized by token.
// size is the request Content-Length, or -1 when unknown.
func (s *Service) Upload(ctx context.Context, assetID uuid.UUID, token string, body io.Reader, size int64) error {
	claims, err := s.signer.Verify(token, grants.OpPut, assetID)
	if err != nil {
		metrics.GrantRejections.WithLabelValues(grants.Reason(err)).Inc()
		return err
	}
	a, err := s.store.GetAsset(ctx, claims.OrgID, assetID)
	if err != nil {
		return err
	}
	if claims.DatasetID == nil || *claims.DatasetID != a.DatasetID || claims.ByteSize != a.ByteSize || claims.ContentType != a.ContentType {
		metrics.GrantRejections.WithLabelValues("claims").Inc()
		return grants.ErrInvalidGrant
	}
	if a.ItemID != nil {
		return conflict(ReasonAssetLinked)
	}
	ds, err := s.store.GetDataset(ctx, a.OrgID, a.DatasetID)
	if err != nil {
		return err
	}
	if ds.Status == models.DatasetStatusArchived {
		return conflict(ReasonArchived)
	}
	// An upload grant fills an asset once; a stored object is never overwritten.
	if _, err := s.objects.Head(ctx, a.StorageKey); err == nil {
		return conflict(ReasonAlreadyUploaded)
	} else if !errors.Is(err, storage.ErrObjectNotFound) {
		return fmt.Errorf("check upload: %w", err)
	}
	if size >= 0 && size != a.ByteSize {
		return ErrSizeMismatch
	}
	if err := s.objects.Put(ctx, a.StorageKey, a.ContentType, &exactReader{r: body, want: a.ByteSize}, a.ByteSize); err != nil {
		if errors.Is(err, ErrSizeMismatch) {
			return ErrSizeMismatch
		}
		return fmt.Errorf("store upload: %w", err)
	}
	s.logger.Info("asset uploaded", zap.String("asset_id", a.ID.String()), zap.Int64("byte_size", a.ByteSize))
	return nil
}

// exactReader fails unless exactly want bytes are read before EOF.
type exactReader struct {
	r    io.Reader
	want int64
	n    int64
}

func (e *exactReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	e.n += int64(n)
	if e.n > e.want {
		return n, ErrSizeMismatch
	}
	if err == io.EOF && e.n != e.want {
		return n, ErrSizeMismatch
	}
	return n, err
}

// Publish validates m and, in one transaction, persists its items and moves
// the dataset from draft to published.
func (s *Service) Publish(ctx context.Context, id models.Identity, datasetID uuid.UUID, m manifest.Manifest) (*Result, error) {
	return s.commit(ctx, id, datasetID, m, OpPublish)
}

// Append validates m and adds its items to a published dataset.
func (s *Service) Append(ctx context.Context, id models.Identity, datasetID uuid.UUID, m manifest.Manifest) (*Result, error) {
	return s.commit(ctx, id, datasetID, m, OpAppend)
}

func checkStatus(op, status string) error {
	switch {
	case status == models.DatasetStatusArchived:
		return conflict(ReasonArchived)
	case op == OpPublish && status != models.DatasetStatusDraft:
		return conflict(ReasonAlreadyPublished)
	case op == OpAppend && status != models.DatasetStatusPublished:
		return conflict(ReasonNotPublished)
	}
	return nil
}

func (s *Service) commit(ctx context.Context, id models.Identity, datasetID uuid.UUID, m manifest.Manifest, op string) (res *Result, err error) {
	defer func() { observe(op, err) }()

	if !id.CanManage() {
		return nil, ErrForbidden
	}
	ds, err := s.store.GetDataset(ctx, id.OrgID, datasetID)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(op, ds.Status); err != nil {
		return nil, err
	}
	validated, err := s.validator.Validate(ctx, id.OrgID, datasetID, m)
	if err != nil {
		return nil, err
	}

	items, anns, links := s.materialize(id.OrgID, datasetID, validated)
	status := ds.Status
	err = s.uow.InTx(ctx, func(tx Store) error {
		locked, err := tx.LockDataset(ctx, id.OrgID, datasetID)
		if err != nil {
			return err
		}
		if err := checkStatus(op, locked.Status); err != nil {
			return err
		}
		if err := tx.InsertItems(ctx, items); err != nil {
			return err
		}
		if err := tx.InsertAnnotations(ctx, anns); err != nil {
			return err
		}
		n, err := tx.LinkAssets(ctx, id.OrgID, datasetID, links)
		if err != nil {
			return err
		}
		if n != int64(len(links)) {
			return conflict(ReasonAssetLinked)
		}
		eventType := audit.EventAppendDataset
		if op == OpPublish {
			now := s.opts.Now().UTC()
			if err := tx.SetStatus(ctx, datasetID, models.DatasetStatusPublished, &now); err != nil {
				return err
			}
			status = models.DatasetStatusPublished
			eventType = audit.EventPublishDataset
		}
		return tx.RecordAudit(ctx, audit.NewEvent(ctx, id, eventType, map[string]any{
			"dataset_id": datasetID.String(),
			"item_count": len(items),
		}))
	})
	if err != nil {
		return nil, err
	}
	metrics.ItemsCreated.Add(float64(len(items)))
	s.logger.Info("dataset "+op,
		zap.String("dataset_id", datasetID.String()),
		zap.String("org_id", id.OrgID.String()),
		zap.Int("item_count", len(items)))
	return &Result{DatasetID: datasetID, Status: status, ItemCount: len(items)}, nil
}

// materialize assigns ids and timestamps. Item i gets created_at = base + i µs
// and each asset links to the first item that references it.
func (s *Service) materialize(orgID, datasetID uuid.UUID, validated []manifest.Item) ([]models.Item, []models.Annotation, []AssetLink) {
	base := s.opts.Now().UTC().Truncate(time.Microsecond)
	items := make([]models.Item, len(validated))
	var anns []models.Annotation
	var links []AssetLink
	linked := map[uuid.UUID]bool{}
	for i, v := range validated {
		at := base.Add(time.Duration(i) * time.Microsecond)
		it := models.Item{
			ID:        uuid.New(),
			OrgID:     orgID,
			DatasetID: datasetID,
			Type:      v.Type,
			Title:     v.Title,
			Summary:   v.Summary,
			Payload:   v.PayloadJSON,
			CreatedAt: at,
		}
		items[i] = it
		for _, a := range v.Annotations {
			anns = append(anns, models.Annotation{
				ID:        uuid.New(),
				OrgID:     orgID,
				DatasetID: datasetID,
				ItemID:    it.ID,
				Schema:    a.Schema,
				Data:      a.Data,
				CreatedAt: at,
			})
		}
		for _, assetID := range v.AssetIDs {
			if linked[assetID] {
				continue
			}
			linked[assetID] = true
			links = append(links, AssetLink{AssetID: assetID, ItemID: it.ID})
		}
	}
	return items, anns, links
}

func observe(op string, err error) {
	var verr *manifest.ValidationError
	switch {
	case err == nil:
		metrics.PublishTotal.WithLabelValues(op, metrics.OutcomeSuccess).Inc()
	case errors.As(err, &verr):
		metrics.PublishTotal.WithLabelValues(op, metrics.OutcomeInvalid).Inc()
		for _, fe := range verr.Errors {
			metrics.ValidationErrors.WithLabelValues(fe.Type).Inc()
		}
	case errors.Is(err, ErrConflict):
		metrics.PublishTotal.WithLabelValues(op, metrics.OutcomeConflict).Inc()
	default:
		metrics.PublishTotal.WithLabelValues(op, metrics.OutcomeError).Inc()
	}
}

// Archive moves a published dataset to archived. Admin only.
func (s *Service) Archive(ctx context.Context, id models.Identity, datasetID uuid.UUID) (*Result, error) {
	if id.Role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	err := s.uow.InTx(ctx, func(tx Store) error {
		ds, err := tx.LockDataset(ctx, id.OrgID, datasetID)
		if err != nil {
			return err
		}
		switch ds.Status {
		case models.DatasetStatusArchived:
			return conflict(ReasonArchived)
		case models.DatasetStatusDraft:
			return conflict(ReasonNotPublished)
		}
		if err := tx.SetStatus(ctx, datasetID, models.DatasetStatusArchived, nil); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.NewEvent(ctx, id, audit.EventArchiveDataset, map[string]any{
			"dataset_id": datasetID.String(),
		}))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("dataset archived", zap.String("dataset_id", datasetID.String()))
	return &Result{DatasetID: datasetID, Status: models.DatasetStatusArchived}, nil
}

func dedupeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
