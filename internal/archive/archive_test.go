package archive

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	buckets map[string]bool
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{buckets: map[string]bool{}, objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeObjects) BucketExists(_ context.Context, bucket string) (bool, error) {
	return f.buckets[bucket], nil
}

func (f *fakeObjects) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.buckets[bucket] = true
	return nil
}

func (f *fakeObjects) PutObject(_ context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[bucket+"/"+object] = body
	f.types[bucket+"/"+object] = opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func TestKeys(t *testing.T) {
	at := time.Date(2025, 3, 9, 23, 30, 0, 0, time.FixedZone("CET", 3600))
	csvKey, jsonKey := Keys("anaphern", "ses_1", at)
	assert.Equal(t, "anaphern/2025/03/09/ses_1.csv", csvKey)
	assert.Equal(t, "anaphern/2025/03/09/ses_1.json", jsonKey)

	csvKey, _ = Keys("", "ses_2", at)
	assert.Equal(t, "default/2025/03/09/ses_2.csv", csvKey)
}

func TestEnsureBucketAndPut(t *testing.T) {
	objects := newFakeObjects()
	s := &Store{client: objects, bucket: "results"}
	ctx := context.Background()

	require.NoError(t, s.EnsureBucket(ctx))
	assert.True(t, objects.buckets["results"])
	require.NoError(t, s.EnsureBucket(ctx))

	keys, err := s.Put(ctx, Submission{
		SessionID:   "ses_1",
		Experiment:  "anaphern",
		SubmittedAt: time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC),
		CSV:         []byte("a,b\n"),
		JSON:        []byte(`[]`),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"anaphern/2025/01/02/ses_1.csv", "anaphern/2025/01/02/ses_1.json"}, keys)
	assert.Equal(t, "a,b\n", string(objects.objects["results/anaphern/2025/01/02/ses_1.csv"]))
	assert.Equal(t, "application/json", objects.types["results/anaphern/2025/01/02/ses_1.json"])
}

func TestPutSkipsMissingRenderingsAndReportsErrors(t *testing.T) {
	objects := newFakeObjects()
	s := &Store{client: objects, bucket: "results"}
	at := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)

	keys, err := s.Put(context.Background(), Submission{SessionID: "ses_1", SubmittedAt: at, JSON: []byte(`[]`)})
	require.NoError(t, err)
	assert.Equal(t, []string{"default/2025/01/02/ses_1.json"}, keys)

	objects.putErr = errors.New("denied")
	_, err = s.Put(context.Background(), Submission{SessionID: "ses_1", SubmittedAt: at, CSV: []byte("x")})
	require.ErrorIs(t, err, objects.putErr)
}

func TestNewRequiresConfiguration(t *testing.T) {
	_, err := New(Config{Bucket: "results"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	s, err := New(Config{Endpoint: "localhost:9000", Bucket: "results"})
	require.NoError(t, err)
	assert.Equal(t, "results", s.Bucket())
}
