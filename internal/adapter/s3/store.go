// Package s3 reads dataset objects from HydroShare's S3-compatible storage
// using a user's delegated credentials.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/couchcryptid/streams-data-service/internal/domain"
)

// DefaultEndpoint is HydroShare's S3 gateway.
const DefaultEndpoint = "https://s3.hydroshare.org"

// Config selects the S3 endpoint. The first segment of every dataset path is
// the bucket.
type Config struct {
	Endpoint string
	Region   string
}

// Store is a domain.ObjectStore scoped to one user's credentials.
type Store struct {
	client *awss3.Client
}

// NewStore builds a path-style client for the endpoint. Requests are not
// retried.
func NewStore(cfg Config, creds domain.StorageCredentials) *Store {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	client := awss3.New(awss3.Options{
		Region:       cfg.Region,
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider(creds.AccessKey, creds.SecretKey, ""),
		Retryer:      aws.NopRetryer{},
	})
	return &Store{client: client}
}

func splitPath(path string) (bucket, key string, err error) {
	path = strings.Trim(path, "/")
	bucket, key, _ = strings.Cut(path, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("path %q has no bucket", path)
	}
	return bucket, key, nil
}

// List returns the object at path, or every object under path treated as a
// directory prefix.
func (s *Store) List(ctx context.Context, path string) ([]domain.ObjectInfo, error) {
	bucket, key, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	var objs []domain.ObjectInfo
	p := awss3.NewListObjectsV2Paginator(s.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(key),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, key, err)
		}
		for _, obj := range page.Contents {
			k := aws.ToString(obj.Key)
			if key != "" && k != key && !strings.HasPrefix(k, key+"/") {
				continue
			}
			if strings.HasSuffix(k, "/") {
				continue
			}
			objs = append(objs, domain.ObjectInfo{Key: bucket + "/" + k, Size: aws.ToInt64(obj.Size)})
		}
	}
	if len(objs) == 0 {
		return nil, fmt.Errorf("no objects found at s3://%s/%s", bucket, key)
	}

	sort.Slice(objs, func(i, j int) bool { return objs[i].Key < objs[j].Key })
	return objs, nil
}

// Open returns an object that serves ReadAt with ranged GETs bound to ctx.
func (s *Store) Open(ctx context.Context, obj domain.ObjectInfo) (domain.Object, error) {
	bucket, key, err := splitPath(obj.Key)
	if err != nil {
		return nil, err
	}
	return &object{ctx: ctx, client: s.client, bucket: bucket, key: key, size: obj.Size}, nil
}

type object struct {
	ctx    context.Context
	client *awss3.Client
	bucket string
	key    string
	size   int64
}

func (o *object) Size() int64 { return o.size }

func (o *object) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("s3: negative offset")
	}
	if off >= o.size {
		return 0, io.EOF
	}
	want := p
	if remaining := o.size - off; int64(len(want)) > remaining {
		want = want[:remaining]
	}
	if len(want) == 0 {
		return 0, nil
	}

	out, err := o.client.GetObject(o.ctx, &awss3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+int64(len(want))-1)),
	})
	if err != nil {
		return 0, fmt.Errorf("get s3://%s/%s: %w", o.bucket, o.key, err)
	}
	defer out.Body.Close()

	n, err := io.ReadFull(out.Body, want)
	if err != nil {
		return n, fmt.Errorf("read s3://%s/%s: %w", o.bucket, o.key, err)
	}
	if len(want) < len(p) {
		return n, io.EOF
	}
	return n, nil
}
