package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettbedarf/blobtree"
)

// fakeS3 is an in-process bucket answering the S3API subset.
type fakeS3 struct {
	mu          sync.Mutex
	objects     map[string][]byte
	deleteCalls [][]string
	deleteErrs  map[string]string
	failAll     error
	pageSize    int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, deleteErrs: map[string]string{}, pageSize: 2}
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return nil, f.failAll
	}

	prefix, delim := aws.ToString(in.Prefix), aws.ToString(in.Delimiter)
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	// each result item is either an object key or a common prefix
	var items []string
	seen := map[string]bool{}
	for _, k := range keys {
		rest := k[len(prefix):]
		if i := strings.Index(rest, delim); delim != "" && i >= 0 {
			cp := prefix + rest[:i+1]
			if !seen[cp] {
				seen[cp] = true
				items = append(items, cp)
			}
			continue
		}
		items = append(items, k)
	}

	start := 0
	if in.ContinuationToken != nil {
		fmt.Sscanf(*in.ContinuationToken, "%d", &start)
	}
	end := min(start+f.pageSize, len(items))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(items))}
	if end < len(items) {
		out.NextContinuationToken = aws.String(fmt.Sprint(end))
	}
	for _, it := range items[start:end] {
		if seen[it] {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(it)})
			continue
		}
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(it),
			ETag: aws.String(`"etag-` + it + `"`),
			Size: aws.Int64(int64(len(f.objects[it]))),
		})
	}
	return out, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	if aws.ToString(in.IfNoneMatch) == "*" {
		if _, ok := f.objects[key]; ok {
			return nil, &smithy.GenericAPIError{Code: "PreconditionFailed"}
		}
	}
	data, _ := io.ReadAll(in.Body)
	f.objects[key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	source, err := url.PathUnescape(aws.ToString(in.CopySource))
	if err != nil {
		return nil, err
	}
	_, srcKey, _ := strings.Cut(source, "/")
	data, ok := f.objects[srcKey]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.objects[aws.ToString(in.Key)] = append([]byte(nil), data...)
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return nil, f.failAll
	}
	var batch []string
	out := &s3.DeleteObjectsOutput{}
	for _, obj := range in.Delete.Objects {
		key := aws.ToString(obj.Key)
		batch = append(batch, key)
		if code, ok := f.deleteErrs[key]; ok {
			out.Errors = append(out.Errors, types.Error{Key: obj.Key, Code: aws.String(code), Message: aws.String(code)})
			continue
		}
		delete(f.objects, key)
	}
	f.deleteCalls = append(f.deleteCalls, batch)
	return out, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return nil, &types.NotFound{}
}

func (f *fakeS3) CreateBucket(context.Context, *s3.CreateBucketInput, ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	return &s3.CreateBucketOutput{}, nil
}

func TestS3Store_Contract(t *testing.T) {
	t.Parallel()
	testStoreContract(t, func(t *testing.T) blobtree.BlobStore {
		return NewS3Store(newFakeS3(), S3StoreConfig{Bucket: "b", ConditionalWrites: true})
	})
}

func TestS3Store_ListWithKeyPrefix(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fake := newFakeS3()
	fake.objects["tenant/docs/a.pdf"] = []byte("a")
	fake.objects["tenant/docs/sub/b.pdf"] = []byte("bb")
	fake.objects["tenant/docs/marker/"] = nil
	fake.objects["other/docs/c.pdf"] = []byte("c")
	s := NewS3Store(fake, S3StoreConfig{Bucket: "b", KeyPrefix: "/tenant/"})

	entries, err := s.List(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, blobtree.Entry{Key: "docs/marker", Name: "marker"}, entries[1])
	assert.Equal(t, "docs/sub", entries[2].Key)
	assert.True(t, entries[2].IsVirtualPrefix())

	file := entries[0]
	assert.Equal(t, "docs/a.pdf", file.Key)
	require.NotNil(t, file.ID)
	assert.Equal(t, "etag-tenant/docs/a.pdf", *file.ID)
	assert.Nil(t, file.ContentType, "listings carry no content type")
	assert.Equal(t, int64(1), *file.Size)
}

func TestS3Store_RemoveBatchesAndPerKeyErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fake := newFakeS3()
	keys := make([]string, 0, 1500)
	for i := range 1500 {
		k := fmt.Sprintf("k/%04d", i)
		keys = append(keys, k)
		fake.objects[k] = []byte("x")
	}
	fake.deleteErrs["k/0007"] = "AccessDenied"
	fake.deleteErrs["k/1200"] = "SlowDown"
	s := NewS3Store(fake, S3StoreConfig{Bucket: "b"})

	results := s.Remove(ctx, keys)
	require.Len(t, results, 1500)
	require.Len(t, fake.deleteCalls, 2)
	assert.Len(t, fake.deleteCalls[0], 1000)
	assert.Len(t, fake.deleteCalls[1], 500)

	for i, r := range results {
		assert.Equal(t, keys[i], r.Key)
		switch r.Key {
		case "k/0007":
			assert.ErrorIs(t, r.Err, blobtree.ErrPermission)
		case "k/1200":
			assert.ErrorIs(t, r.Err, blobtree.ErrTransient)
		default:
			assert.NoError(t, r.Err)
		}
	}
}

func TestS3Store_RemoveRequestFailure(t *testing.T) {
	t.Parallel()

	fake := newFakeS3()
	fake.failAll = &smithy.GenericAPIError{Code: "ServiceUnavailable"}
	s := NewS3Store(fake, S3StoreConfig{Bucket: "b"})

	results := s.Remove(context.Background(), []string{"a", "b"})
	for _, r := range results {
		assert.ErrorIs(t, r.Err, blobtree.ErrTransient)
	}
}

func TestS3Store_PutIfAbsentWithoutConditionalWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := NewS3Store(newFakeS3(), S3StoreConfig{Bucket: "b"})
	require.NoError(t, s.PutIfAbsent(ctx, "k", []byte("1"), ""))
	assert.ErrorIs(t, s.PutIfAbsent(ctx, "k", []byte("2"), ""), blobtree.ErrConflict)
}

func TestS3Store_EnsureBucket(t *testing.T) {
	t.Parallel()

	s := NewS3Store(newFakeS3(), S3StoreConfig{Bucket: "b"})
	assert.NoError(t, s.EnsureBucket(context.Background()))
}

func TestS3Store_PublicURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  S3StoreConfig
		want string
	}{
		{"public_base", S3StoreConfig{Bucket: "b", PublicBaseURL: "https://cdn.example.com/"}, "https://cdn.example.com/docs/a%20b.pdf"},
		{"path_style", S3StoreConfig{Bucket: "b", Endpoint: "http://localhost:4566", ForcePathStyle: true}, "http://localhost:4566/b/docs/a%20b.pdf"},
		{"endpoint", S3StoreConfig{Bucket: "b", Endpoint: "https://b.example.com"}, "https://b.example.com/docs/a%20b.pdf"},
		{"region", S3StoreConfig{Bucket: "b", Region: "eu-west-1"}, "https://b.s3.eu-west-1.amazonaws.com/docs/a%20b.pdf"},
		{"default", S3StoreConfig{Bucket: "b"}, "https://b.s3.amazonaws.com/docs/a%20b.pdf"},
		{"key_prefix", S3StoreConfig{Bucket: "b", KeyPrefix: "t"}, "https://b.s3.amazonaws.com/t/docs/a%20b.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NewS3Store(nil, tt.cfg).PublicURL("docs/a b.pdf"))
		})
	}
}

type statusErr struct{ code int }

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) HTTPStatusCode() int { return e.code }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyS3(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no_such_key", &types.NoSuchKey{}, blobtree.ErrNotFound},
		{"not_found_code", &smithy.GenericAPIError{Code: "NotFound"}, blobtree.ErrNotFound},
		{"access_denied", &smithy.GenericAPIError{Code: "AccessDenied"}, blobtree.ErrPermission},
		{"precondition", &smithy.GenericAPIError{Code: "PreconditionFailed"}, blobtree.ErrConflict},
		{"slow_down", &smithy.GenericAPIError{Code: "SlowDown"}, blobtree.ErrTransient},
		{"status_503", statusErr{503}, blobtree.ErrTransient},
		{"status_429", statusErr{429}, blobtree.ErrTransient},
		{"status_403", statusErr{403}, blobtree.ErrPermission},
		{"status_404", statusErr{404}, blobtree.ErrNotFound},
		{"net_timeout", timeoutErr{}, blobtree.ErrTransient},
		{"conn_reset", errors.New("read: connection reset by peer"), blobtree.ErrTransient},
		{"canceled", context.Canceled, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, classifyS3("get", "k", tt.err), tt.want)
		})
	}

	t.Run("unknown_is_permanent", func(t *testing.T) {
		t.Parallel()
		err := classifyS3("get", "k", errors.New("boom"))
		assert.Error(t, err)
		assert.False(t, blobtree.IsTransient(err))
		assert.False(t, blobtree.IsNotFound(err))
	})
	assert.NoError(t, classifyS3("get", "k", nil))
}
