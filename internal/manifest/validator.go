package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/rushilcs/data-viewer/internal/models"
	"github.com/rushilcs/data-viewer/internal/reconcile"
	"github.com/rushilcs/data-viewer/internal/schema"
)

// AssetLookup returns the assets among ids that belong to the dataset and
// organization and are not yet linked to an item. Others are simply absent.
type AssetLookup interface {
	UnlinkedAssets(ctx context.Context, orgID, datasetID uuid.UUID, ids []uuid.UUID) ([]models.Asset, error)
}

// Reconciler checks stored objects for a batch of assets.
type Reconciler interface {
	All(ctx context.Context, assets []models.Asset) (map[uuid.UUID]*reconcile.Mismatch, error)
}

// Validator checks manifests. It is safe for concurrent use.
type Validator struct {
	registry   *schema.Registry
	assets     AssetLookup
	reconciler Reconciler
}

// NewValidator wires a validator to an immutable registry.
func NewValidator(registry *schema.Registry, assets AssetLookup, reconciler Reconciler) *Validator {
	return &Validator{registry: registry, assets: assets, reconciler: reconciler}
}

type ref struct {
	path string
	id   uuid.UUID
}

// Validate returns the normalized items, or a *ValidationError listing every
// violation. Other errors are infrastructure failures.
func (v *Validator) Validate(ctx context.Context, orgID, datasetID uuid.UUID, m Manifest) ([]Item, error) {
	var errs []schema.FieldError
	if len(m.Items) == 0 {
		return nil, &ValidationError{Errors: []schema.FieldError{{
			Path:    "items",
			Type:    schema.ErrMissingRequired,
			Message: "manifest must contain at least one item",
		}}}
	}

	items := make([]Item, len(m.Items))
	var refs []ref
	for i, raw := range m.Items {
		prefix := schema.Index("items", i)
		it, itemRefs := v.validateItem(raw, prefix, &errs)
		items[i] = it
		refs = append(refs, itemRefs...)
	}

	if len(refs) > 0 {
		if err := v.checkAssets(ctx, orgID, datasetID, refs, &errs); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return items, nil
}

func (v *Validator) validateItem(raw json.RawMessage, prefix string, errs *[]schema.FieldError) (Item, []ref) {
	var it Item
	fields, ok := envelope(raw, prefix, itemKeys, errs)
	if !ok {
		return it, nil
	}
	it.Title, _ = stringField(fields, "title", prefix, false, errs)
	it.Summary, _ = stringField(fields, "summary", prefix, false, errs)

	var refs []ref
	typ, typeOK := stringField(fields, "type", prefix, true, errs)
	if typeOK {
		it.Type = *typ
		switch payloadRaw, present := fields["payload"]; {
		case !v.registry.Supports(it.Type):
			*errs = append(*errs, schema.FieldError{
				Path:    schema.Join(prefix, "type"),
				Type:    schema.ErrUnsupportedType,
				Message: fmt.Sprintf("unsupported item type %q", it.Type),
			})
		case !present:
			*errs = append(*errs, schema.FieldError{Path: schema.Join(prefix, "payload"), Type: schema.ErrMissingRequired, Message: "field required"})
		default:
			payloadPath := schema.Join(prefix, "payload")
			p, perrs := v.registry.Validate(it.Type, payloadRaw)
			if len(perrs) > 0 {
				*errs = append(*errs, schema.Prefix(payloadPath, perrs)...)
			} else {
				it.Payload = p
				it.PayloadJSON = compact(payloadRaw)
				seen := make(map[uuid.UUID]bool)
				for _, r := range p.AssetRefs() {
					refs = append(refs, ref{path: schema.Join(payloadPath, r.Path), id: r.ID})
					if !seen[r.ID] {
						seen[r.ID] = true
						it.AssetIDs = append(it.AssetIDs, r.ID)
					}
				}
			}
		}
	}

	if annRaw, ok := fields["annotations"]; ok && string(bytes.TrimSpace(annRaw)) != "null" {
		it.Annotations = v.validateAnnotations(annRaw, it.Type, schema.Join(prefix, "annotations"), errs)
	}
	return it, refs
}

func (v *Validator) validateAnnotations(raw json.RawMessage, itemType, path string, errs *[]schema.FieldError) []Annotation {
	var list []json.RawMessage
	if t := bytes.TrimSpace(raw); len(t) == 0 || t[0] != '[' || json.Unmarshal(t, &list) != nil {
		*errs = append(*errs, schema.FieldError{Path: path, Type: schema.ErrWrongType, Message: "must be an array"})
		return nil
	}
	out := make([]Annotation, 0, len(list))
	for j, a := range list {
		apath := schema.Index(path, j)
		fields, ok := envelope(a, apath, annotationKeys, errs)
		if !ok {
			continue
		}
		tag, ok := stringField(fields, "schema", apath, true, errs)
		data, hasData := fields["data"]
		if !hasData {
			*errs = append(*errs, schema.FieldError{Path: schema.Join(apath, "data"), Type: schema.ErrMissingRequired, Message: "field required"})
		}
		if !ok {
			continue
		}
		if !v.registry.SupportsAnnotation(*tag) {
			*errs = append(*errs, schema.FieldError{
				Path:    schema.Join(apath, "schema"),
				Type:    schema.ErrInvalidAnnotation,
				Message: fmt.Sprintf("unknown annotation schema %q", *tag),
			})
			continue
		}
		if !v.registry.AllowsAnnotation(itemType, *tag) {
			*errs = append(*errs, schema.FieldError{
				Path:    schema.Join(apath, "schema"),
				Type:    schema.ErrInvalidAnnotation,
				Message: fmt.Sprintf("annotation schema %q not allowed on %s items", *tag, itemType),
			})
			continue
		}
		if !hasData {
			continue
		}
		if aerrs := v.registry.ValidateAnnotation(*tag, data); len(aerrs) > 0 {
			*errs = append(*errs, schema.Prefix(schema.Join(apath, "data"), aerrs)...)
			continue
		}
		out = append(out, Annotation{Schema: *tag, Data: compact(data)})
	}
	return out
}

// checkAssets resolves every referenced id in one lookup scoped to the
// dataset, then reconciles the found assets once each.
func (v *Validator) checkAssets(ctx context.Context, orgID, datasetID uuid.UUID, refs []ref, errs *[]schema.FieldError) error {
	var ids []uuid.UUID
	firstPath := make(map[uuid.UUID]string)
	for _, r := range refs {
		if _, ok := firstPath[r.id]; !ok {
			firstPath[r.id] = r.path
			ids = append(ids, r.id)
		}
	}
	found, err := v.assets.UnlinkedAssets(ctx, orgID, datasetID, ids)
	if err != nil {
		return fmt.Errorf("lookup assets: %w", err)
	}
	byID := make(map[uuid.UUID]models.Asset, len(found))
	for _, a := range found {
		if a.OrgID == orgID && a.DatasetID == datasetID && a.ItemID == nil {
			byID[a.ID] = a
		}
	}
	for _, r := range refs {
		if _, ok := byID[r.id]; !ok {
			*errs = append(*errs, schema.FieldError{
				Path:    r.path,
				Type:    schema.ErrAssetNotUploaded,
				Message: "asset not found",
			})
		}
	}
	if len(byID) == 0 {
		return nil
	}

	toCheck := make([]models.Asset, 0, len(byID))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			toCheck = append(toCheck, a)
		}
	}
	mismatches, err := v.reconciler.All(ctx, toCheck)
	if err != nil {
		return fmt.Errorf("reconcile assets: %w", err)
	}
	for _, id := range ids {
		if m, ok := mismatches[id]; ok {
			*errs = append(*errs, schema.FieldError{Path: firstPath[id], Type: m.Type, Message: m.Message})
		}
	}
	return nil
}
