package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/brettbedarf/blobtree"
	"github.com/brettbedarf/blobtree/internal/util"
)

// S3 allows max 1000 objects per delete request
const s3MaxBatchRemove = 1000

// S3StoreConfig is the JSON config for type "s3".
type S3StoreConfig struct {
	Type string `json:"type"`

	Bucket string `json:"bucket"`
	// Region is the AWS region (optional, uses SDK default if empty).
	Region string `json:"region,omitempty"`
	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services).
	Endpoint string `json:"endpoint,omitempty"`
	// KeyPrefix scopes the whole tree below this prefix, e.g. "tenants/a".
	KeyPrefix string `json:"key_prefix,omitempty"`
	// ForcePathStyle forces path-style addressing (required for Localstack/MinIO).
	ForcePathStyle bool `json:"force_path_style,omitempty"`

	// Static credentials; the SDK default chain is used when empty.
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`

	// PublicBaseURL overrides the address PublicURL builds on (CDN, proxy).
	PublicBaseURL string `json:"public_base_url,omitempty"`

	// ConditionalWrites uses If-None-Match on PutObject. Disable for
	// S3-compatible services that do not support it; a racy HeadObject check
	// is used instead.
	ConditionalWrites bool `json:"conditional_writes,omitempty"`
}

// S3API is the subset of the S3 client used by [S3Store].
type S3API interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Store is a [blobtree.BlobStore] over an S3 bucket. S3 has no rename, so
// it implements [blobtree.Copier] (server-side copy) but not Mover.
type S3Store struct {
	client      S3API
	bucket      string
	keyPrefix   string
	region      string
	endpoint    string
	publicBase  string
	pathStyle   bool
	conditional bool
	logger      zerolog.Logger
}

// NewS3Store wraps an existing client.
func NewS3Store(client S3API, cfg S3StoreConfig) *S3Store {
	prefix := strings.Trim(cfg.KeyPrefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3Store{
		client:      client,
		bucket:      cfg.Bucket,
		keyPrefix:   prefix,
		region:      cfg.Region,
		endpoint:    strings.TrimSuffix(cfg.Endpoint, "/"),
		publicBase:  strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		pathStyle:   cfg.ForcePathStyle,
		conditional: cfg.ConditionalWrites,
		logger:      util.GetLogger("S3Store").With().Str("bucket", cfg.Bucket).Logger(),
	}
}

// NewS3StoreFromConfig creates the S3 client from cfg.
func NewS3StoreFromConfig(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 store requires bucket")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewS3Store(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if !errors.Is(classifyS3("head_bucket", s.bucket, err), blobtree.ErrNotFound) {
		return classifyS3("head_bucket", s.bucket, err)
	}
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return classifyS3("create_bucket", s.bucket, err)
	}
	s.logger.Info().Msg("Created bucket")
	return nil
}

func (s *S3Store) fullKey(key string) string { return s.keyPrefix + key }

func (s *S3Store) relKey(full string) string { return strings.TrimPrefix(full, s.keyPrefix) }

func (s *S3Store) List(ctx context.Context, prefix string) ([]blobtree.Entry, error) {
	p := listPrefix(prefix)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(s.fullKey(p)),
		Delimiter: aws.String(blobtree.Separator),
	})

	var entries []blobtree.Entry
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyS3(OpList, prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			rel := strings.TrimSuffix(s.relKey(aws.ToString(cp.Prefix)), blobtree.Separator)
			name, _ := splitChild(p, rel)
			if name == "" {
				continue
			}
			entries = append(entries, folderEntry(p, name))
		}
		for _, obj := range page.Contents {
			key := s.relKey(aws.ToString(obj.Key))
			// directory marker objects written by other tools
			if strings.HasSuffix(key, blobtree.Separator) {
				continue
			}
			name, _ := splitChild(p, key)
			// ListObjectsV2 does not return content types, so the entry
			// carries the ETag as its ID only.
			entries = append(entries, blobtree.Entry{
				Key:        key,
				Name:       name,
				ID:         aws.String(strings.Trim(aws.ToString(obj.ETag), `"`)),
				Size:       obj.Size,
				ModifiedAt: aws.ToTime(obj.LastModified),
			})
		}
	}
	sortEntries(entries)
	return entries, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.putInput(key, data, contentType))
	return classifyS3(OpPut, key, err)
}

func (s *S3Store) putInput(key string, data []byte, contentType string) *s3.PutObjectInput {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	return in
}

// PutIfAbsent implements [blobtree.ConditionalPutter].
func (s *S3Store) PutIfAbsent(ctx context.Context, key string, data []byte, contentType string) error {
	in := s.putInput(key, data, contentType)
	if s.conditional {
		in.IfNoneMatch = aws.String("*")
	} else if err := s.checkAbsent(ctx, OpPut, key); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, in)
	return classifyS3(OpPut, key, err)
}

func (s *S3Store) checkAbsent(ctx context.Context, op, key string) error {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err == nil {
		return blobtree.NewStoreError(op, key, blobtree.ErrConflict, nil)
	}
	if cerr := classifyS3(op, key, err); !errors.Is(cerr, blobtree.ErrNotFound) {
		return cerr
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return nil, classifyS3(OpGet, key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyS3(OpGet, key, err)
	}
	return data, nil
}

// Copy implements [blobtree.Copier] with CopyObject. The destination check is
// a separate HeadObject, so a concurrent writer can still race it.
func (s *S3Store) Copy(ctx context.Context, src, dst string) error {
	if err := s.checkAbsent(ctx, OpCopy, dst); err != nil {
		return err
	}
	source := (&url.URL{Path: s.bucket + "/" + s.fullKey(src)}).EscapedPath()
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.fullKey(dst)),
		CopySource: aws.String(source),
	})
	return classifyS3(OpCopy, src, err)
}

// Remove uses DeleteObjects; keys beyond MaxBatchRemove are split into
// several requests. Missing keys are reported as removed by S3.
func (s *S3Store) Remove(ctx context.Context, keys []string) []blobtree.RemoveResult {
	results := make([]blobtree.RemoveResult, 0, len(keys))
	for i := 0; i < len(keys); i += s3MaxBatchRemove {
		batch := keys[i:min(i+s3MaxBatchRemove, len(keys))]
		results = append(results, s.removeBatch(ctx, batch)...)
	}
	return results
}

func (s *S3Store) removeBatch(ctx context.Context, batch []string) []blobtree.RemoveResult {
	objects := make([]types.ObjectIdentifier, len(batch))
	for i, key := range batch {
		objects[i] = types.ObjectIdentifier{Key: aws.String(s.fullKey(key))}
	}

	results := make([]blobtree.RemoveResult, len(batch))
	for i, key := range batch {
		results[i].Key = key
	}

	out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		for i, key := range batch {
			results[i].Err = classifyS3(OpRemove, key, err)
		}
		return results
	}

	index := make(map[string]int, len(batch))
	for i, key := range batch {
		index[key] = i
	}
	for _, de := range out.Errors {
		key := s.relKey(aws.ToString(de.Key))
		i, ok := index[key]
		if !ok {
			continue
		}
		apiErr := &smithy.GenericAPIError{Code: aws.ToString(de.Code), Message: aws.ToString(de.Message)}
		results[i].Err = classifyS3(OpRemove, key, apiErr)
	}
	return results
}

// MaxBatchRemove implements [blobtree.BatchLimiter].
func (s *S3Store) MaxBatchRemove() int { return s3MaxBatchRemove }

func (s *S3Store) PublicURL(key string) string {
	escaped := (&url.URL{Path: s.fullKey(key)}).EscapedPath()
	switch {
	case s.publicBase != "":
		return s.publicBase + "/" + escaped
	case s.endpoint != "" && s.pathStyle:
		return s.endpoint + "/" + s.bucket + "/" + escaped
	case s.endpoint != "":
		return s.endpoint + "/" + escaped
	case s.region != "":
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, escaped)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, escaped)
}

// classifyS3 maps SDK errors onto the blobtree error kinds.
func classifyS3(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) || errors.As(err, &noSuchBucket) {
		return blobtree.NewStoreError(op, key, blobtree.ErrNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return blobtree.NewStoreError(op, key, blobtree.ErrNotFound, err)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch", "AllAccessDisabled":
			return blobtree.NewStoreError(op, key, blobtree.ErrPermission, err)
		case "PreconditionFailed":
			return blobtree.NewStoreError(op, key, blobtree.ErrConflict, err)
		case "Throttling", "ThrottlingException", "RequestThrottled", "SlowDown",
			"ProvisionedThroughputExceededException", "RequestTimeout",
			"InternalError", "ServiceUnavailable", "ServiceException",
			"InternalServiceException", "ConditionalRequestConflict":
			return blobtree.NewStoreError(op, key, blobtree.ErrTransient, err)
		}
	}

	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		switch status := respErr.HTTPStatusCode(); {
		case status == http.StatusNotFound:
			return blobtree.NewStoreError(op, key, blobtree.ErrNotFound, err)
		case status == http.StatusForbidden || status == http.StatusUnauthorized:
			return blobtree.NewStoreError(op, key, blobtree.ErrPermission, err)
		case status == http.StatusPreconditionFailed:
			return blobtree.NewStoreError(op, key, blobtree.ErrConflict, err)
		case status == http.StatusTooManyRequests || status >= 500:
			return blobtree.NewStoreError(op, key, blobtree.ErrTransient, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return blobtree.NewStoreError(op, key, blobtree.ErrTransient, err)
	}

	msg := err.Error()
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "temporary failure") {
		return blobtree.NewStoreError(op, key, blobtree.ErrTransient, err)
	}

	return blobtree.NewStoreError(op, key, nil, err)
}

// RegisterS3 registers the "s3" store type.
func RegisterS3() {
	Register(S3StoreType, func(raw []byte) (blobtree.BlobStore, error) {
		var cfg S3StoreConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
		return NewS3StoreFromConfig(context.Background(), cfg)
	})
}

var (
	_ blobtree.BlobStore         = (*S3Store)(nil)
	_ blobtree.Copier            = (*S3Store)(nil)
	_ blobtree.ConditionalPutter = (*S3Store)(nil)
	_ blobtree.BatchLimiter      = (*S3Store)(nil)
	_ S3API                      = (*s3.Client)(nil)
)
