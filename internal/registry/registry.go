// Package registry manages client profiles: the per-client classifier text
// and extraction schema every pipeline run resolves against.
package registry

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ammonit/intake/internal/model"
	"github.com/ammonit/intake/internal/store"
)

// ErrProfileLocked is returned by Update once a profile's schema has been
// used for a successful extraction.
var ErrProfileLocked = eris.New("registry: profile is locked")

// Registry is the client-profile service. It implements the profile side of
// the pipeline (list, provisional creation, locking) plus the management
// operations exposed on the CLI.
type Registry struct {
	store store.Store
}

// New creates a Registry backed by the given store.
func New(st store.Store) *Registry {
	return &Registry{store: st}
}

// Register validates and persists a new client profile. A profile named
// model.BootstrapProfileName acts as the owner's bootstrap sentinel; its
// schema is what provisional profiles inherit.
func (r *Registry) Register(ctx context.Context, profile model.ClientProfile) (*model.ClientProfile, error) {
	if profile.OwnerID == "" {
		return nil, eris.New("registry: owner id required")
	}
	if profile.Name == "" {
		return nil, eris.New("registry: profile name required")
	}
	if err := profile.Schema.Validate(); err != nil {
		return nil, eris.Wrap(err, "registry: register")
	}

	created, err := r.store.CreateProfile(ctx, profile)
	if err != nil {
		return nil, eris.Wrap(err, "registry: register")
	}
	zap.L().Info("registry: profile registered",
		zap.String("profile_id", created.ID),
		zap.String("owner_id", created.OwnerID),
		zap.String("name", created.Name),
	)
	return created, nil
}

// Get returns one profile by id.
func (r *Registry) Get(ctx context.Context, profileID string) (*model.ClientProfile, error) {
	return r.store.GetProfile(ctx, profileID)
}

// ListByOwner returns the owner's profiles in registration order.
func (r *Registry) ListByOwner(ctx context.Context, ownerID string) ([]model.ClientProfile, error) {
	return r.store.ListProfilesByOwner(ctx, ownerID)
}

// Update replaces a profile's name, classifier and schema. Rejected with
// ErrProfileLocked once the schema has produced an extraction: orders
// already normalized against it must stay interpretable.
func (r *Registry) Update(ctx context.Context, profile model.ClientProfile) error {
	current, err := r.store.GetProfile(ctx, profile.ID)
	if err != nil {
		return err
	}
	if current.Locked {
		return eris.Wrapf(ErrProfileLocked, "profile %s", profile.ID)
	}
	if err := profile.Schema.Validate(); err != nil {
		return eris.Wrap(err, "registry: update")
	}
	return r.store.UpdateProfile(ctx, profile)
}

// MarkUsed locks the profile's schema after its first successful extraction.
// Locking an already locked profile is a no-op.
func (r *Registry) MarkUsed(ctx context.Context, profileID string) error {
	return r.store.LockProfile(ctx, profileID)
}

// CreateProvisional persists a profile produced by bootstrap classification:
// the company name came from the document, the schema from the owner's
// sentinel. The stored copy gets a fresh id.
func (r *Registry) CreateProvisional(ctx context.Context, profile model.ClientProfile) (model.ClientProfile, error) {
	profile.ID = ""
	created, err := r.store.CreateProfile(ctx, profile)
	if err != nil {
		return model.ClientProfile{}, eris.Wrap(err, "registry: create provisional")
	}
	zap.L().Info("registry: provisional profile created",
		zap.String("profile_id", created.ID),
		zap.String("owner_id", created.OwnerID),
		zap.String("name", created.Name),
	)
	return *created, nil
}

// ConfirmBootstrap promotes a provisional profile: the owner supplies the
// final name and classifier text so selection mode can match it from then
// on. The schema is left untouched, locked or not.
func (r *Registry) ConfirmBootstrap(ctx context.Context, profileID, name, classifier string) (*model.ClientProfile, error) {
	current, err := r.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if current.Name == model.BootstrapProfileName {
		return nil, eris.Errorf("registry: profile %s is the bootstrap sentinel", profileID)
	}
	if name == "" {
		return nil, eris.New("registry: confirmed name required")
	}

	current.Name = name
	current.Classifier = classifier
	if err := r.store.UpdateProfile(ctx, *current); err != nil {
		return nil, eris.Wrap(err, "registry: confirm bootstrap")
	}
	return current, nil
}
