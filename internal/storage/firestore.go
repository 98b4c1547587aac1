package storage

import (
	"context"
	"errors"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/rotisserie/eris"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/celerix-dev/carbon-ledger/pkg/sdk"
)

// FirestoreStore implements sdk.DocumentStore on Cloud Firestore collections.
// Identifiers are Firestore auto-IDs; List order is the backend's default (by id).
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestore connects to a Firestore project. An empty credentialsFile uses
// application default credentials, or the emulator when FIRESTORE_EMULATOR_HOST is set.
func NewFirestore(ctx context.Context, projectID, credentialsFile string) (*FirestoreStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, eris.Wrapf(err, "firestore: connect to project %s", projectID)
	}
	return &FirestoreStore{client: client}, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) Create(ctx context.Context, collection string, doc sdk.Document) (string, error) {
	if err := sdk.ValidateCollection(collection); err != nil {
		return "", err
	}
	ref, _, err := s.client.Collection(collection).Add(ctx, toFirestore(doc))
	if err != nil {
		return "", eris.Wrapf(err, "firestore: add to %s", collection)
	}
	return ref.ID, nil
}

func (s *FirestoreStore) Get(ctx context.Context, collection, id string) (sdk.Document, error) {
	if err := sdk.ValidateCollection(collection); err != nil {
		return nil, err
	}
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if isNotFound(err) {
		return nil, sdk.ErrDocumentNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "firestore: get %s/%s", collection, id)
	}
	return sdk.Document(snap.Data()), nil
}

func (s *FirestoreStore) List(ctx context.Context, collection string, filter *sdk.Filter) ([]sdk.Snapshot, error) {
	if err := sdk.ValidateCollection(collection); err != nil {
		return nil, err
	}
	if err := sdk.ValidateFilter(filter); err != nil {
		return nil, err
	}

	q := s.client.Collection(collection).Query
	if filter != nil {
		q = q.WhereEntity(firestore.PropertyFilter{Path: filter.Field, Operator: "==", Value: filter.Value})
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	list := make([]sdk.Snapshot, 0)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "firestore: list %s", collection)
		}
		list = append(list, sdk.Snapshot{ID: snap.Ref.ID, Data: sdk.Document(snap.Data())})
	}
	return list, nil
}

func (s *FirestoreStore) Update(ctx context.Context, collection, id string, patch sdk.Document) error {
	if err := sdk.ValidateCollection(collection); err != nil {
		return err
	}
	ref := s.client.Collection(collection).Doc(id)

	// Firestore refuses an empty update; existence is all there is to check.
	if len(patch) == 0 {
		_, err := s.Get(ctx, collection, id)
		return err
	}

	updates := make([]firestore.Update, 0, len(patch))
	for _, k := range sortedKeys(patch) {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: patch[k]})
	}
	_, err := ref.Update(ctx, updates)
	if isNotFound(err) {
		return sdk.ErrDocumentNotFound
	}
	return eris.Wrapf(err, "firestore: update %s/%s", collection, id)
}

func (s *FirestoreStore) Delete(ctx context.Context, collection, id string) error {
	if err := sdk.ValidateCollection(collection); err != nil {
		return err
	}
	_, err := s.client.Collection(collection).Doc(id).Delete(ctx)
	return eris.Wrapf(err, "firestore: delete %s/%s", collection, id)
}

func (s *FirestoreStore) Restore(ctx context.Context, collection, id string, doc sdk.Document) error {
	if err := sdk.ValidateCollection(collection); err != nil {
		return err
	}
	_, err := s.client.Collection(collection).Doc(id).Set(ctx, toFirestore(doc))
	return eris.Wrapf(err, "firestore: set %s/%s", collection, id)
}

func (s *FirestoreStore) Collections(ctx context.Context) ([]string, error) {
	iter := s.client.Collections(ctx)
	list := make([]string, 0)
	for {
		ref, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "firestore: list collections")
		}
		list = append(list, ref.ID)
	}
	sort.Strings(list)
	return list, nil
}

func (s *FirestoreStore) Dump(ctx context.Context, collection string) (map[string]sdk.Document, error) {
	list, err := s.List(ctx, collection, nil)
	if err != nil {
		return nil, err
	}
	return snapshotsToMap(list), nil
}

func toFirestore(doc sdk.Document) map[string]any {
	if doc == nil {
		return map[string]any{}
	}
	return map[string]any(doc)
}

func isNotFound(err error) bool {
	return err != nil && status.Code(err) == codes.NotFound
}
