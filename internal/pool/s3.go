package pool

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"distribox/internal/dbx"
)

// S3Pool is a BlobPool backed by an S3 bucket, for peers that keep their
// pool remote. Objects are keyed <prefix>/<digest>. Uploads go through the
// transfer manager so large blobs use multipart uploads.
type S3Pool struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// S3Options configures an S3Pool. AccessKey/SecretKey are optional; when
// empty the default AWS credential chain is used.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3Pool creates a pool over the given bucket.
func NewS3Pool(ctx context.Context, opts S3Options) (*S3Pool, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 pool requires a bucket")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &S3Pool{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		prefix:   opts.Prefix,
	}, nil
}

func (p *S3Pool) key(digest string) string {
	return path.Join(p.prefix, digest)
}

func (p *S3Pool) Put(data []byte) (string, error) {
	sum := sha1.Sum(data)
	digest := hex.EncodeToString(sum[:])

	exists, err := p.Exists(digest)
	if err != nil {
		return "", err
	}
	if exists {
		return digest, nil
	}

	_, err = p.uploader.Upload(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(digest)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("uploading blob %s: %w", digest, err)
	}
	return digest, nil
}

func (p *S3Pool) PutPath(filePath string) (string, int64, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", 0, fmt.Errorf("opening source file: %w", err)
	}
	defer f.Close()

	h := sha1.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hashing content: %w", err)
	}
	digest := hex.EncodeToString(h.Sum(nil))

	exists, err := p.Exists(digest)
	if err != nil {
		return "", 0, err
	}
	if exists {
		return digest, size, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", 0, fmt.Errorf("rewinding source file: %w", err)
	}
	_, err = p.uploader.Upload(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(digest)),
		Body:   f,
	})
	if err != nil {
		return "", 0, fmt.Errorf("uploading blob %s: %w", digest, err)
	}
	return digest, size, nil
}

func (p *S3Pool) Get(digest string) ([]byte, error) {
	out, err := p.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(digest)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("blob %s: %w", digest, dbx.ErrNotFound)
		}
		return nil, fmt.Errorf("fetching blob %s: %w", digest, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", digest, err)
	}
	return data, nil
}

func (p *S3Pool) Exists(digest string) (bool, error) {
	_, err := p.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(digest)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking blob %s: %w", digest, err)
	}
	return true, nil
}

// Compile-time check that S3Pool implements dbx.BlobPool.
var _ dbx.BlobPool = (*S3Pool)(nil)
