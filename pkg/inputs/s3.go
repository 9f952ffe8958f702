package inputs

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bmatcuk/doublestar/v4"
)

// S3Scheme prefixes object-store inputs.
const S3Scheme = "s3://"

// DefaultAWSRegion is the fallback region for AWS S3 when none resolves.
const DefaultAWSRegion = "us-east-1"

// S3Config configures access to s3:// inputs.
//
// Credentials follow the AWS SDK v2 default chain (environment, shared
// credentials and config files, instance roles) unless AccessKeyID and
// SecretAccessKey are both set.
type S3Config struct {
	Region         string
	Endpoint       string
	Profile        string
	ForcePathStyle bool

	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client builds an S3 client for the given configuration.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	if (cfg.AccessKeyID != "") != (cfg.SecretAccessKey != "") {
		return nil, fmt.Errorf("s3 config: both access key ID and secret access key must be provided together")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	if awsCfg.Region == "" && cfg.Endpoint == "" {
		awsCfg.Region = DefaultAWSRegion
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// s3Pattern is a parsed s3://bucket/key-glob input.
type s3Pattern struct {
	bucket string
	glob   string
}

func parseS3Pattern(uri string) (s3Pattern, error) {
	rest := strings.TrimPrefix(uri, S3Scheme)
	bucket, glob, _ := strings.Cut(rest, "/")
	if bucket == "" || glob == "" {
		return s3Pattern{}, fmt.Errorf("%w: expected s3://bucket/key-pattern", ErrInvalidPattern)
	}
	if !doublestar.ValidatePattern(glob) {
		return s3Pattern{}, fmt.Errorf("%w: bad glob %q", ErrInvalidPattern, glob)
	}
	return s3Pattern{bucket: bucket, glob: glob}, nil
}

// listPrefix is the static part of the glob up to the last '/' before the
// first metacharacter, used to narrow the listing.
func (p s3Pattern) listPrefix() string {
	i := strings.IndexAny(p.glob, `*?[{\`)
	if i < 0 {
		return p.glob
	}
	static := p.glob[:i]
	if j := strings.LastIndex(static, "/"); j >= 0 {
		return static[:j+1]
	}
	return ""
}

// listS3 returns the s3:// URIs of every object matching the pattern.
func listS3(ctx context.Context, client s3.ListObjectsV2APIClient, p s3Pattern) ([]string, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(p.bucket)}
	if prefix := p.listPrefix(); prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var out []string
	pager := s3.NewListObjectsV2Paginator(client, input)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classifyS3Error(err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			ok, err := doublestar.Match(p.glob, key)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
			}
			if ok {
				out = append(out, S3Scheme+p.bucket+"/"+key)
			}
		}
	}
	return out, nil
}
