// Package inputs expands the input patterns of a batch manifest into the
// concrete list of input files handed to the work environment.
//
// Three kinds of entries are understood:
//
//	data/**/HITS.*.root          local glob, relative to the work dir
//	s3://bucket/run042/*.slcio   object-store glob, listed with ListObjectsV2
//	root://eosatlas//eos/...     remote URL, passed through verbatim
//
// The result is deterministic: sorted, de-duplicated, local paths absolute.
package inputs

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// Resolver expands input patterns.
type Resolver struct {
	// Dir is the directory relative patterns are resolved against.
	Dir string

	// S3 lists s3:// patterns. When nil, a client is built from S3Config on
	// first use.
	S3 s3.ListObjectsV2APIClient

	// S3Config configures the lazily built client.
	S3Config S3Config

	Logger *zap.Logger
}

// Resolve expands every pattern. A pattern matching nothing is an error
// wrapping ErrNoMatch.
func (r *Resolver) Resolve(ctx context.Context, patterns []string) ([]string, error) {
	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var out []string
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		var (
			matches []string
			err     error
		)
		switch {
		case strings.HasPrefix(pattern, S3Scheme):
			matches, err = r.resolveS3(ctx, pattern)
		case strings.Contains(pattern, "://"):
			matches = []string{pattern}
		default:
			matches, err = r.resolveLocal(pattern)
		}
		if err != nil {
			return nil, &Error{Pattern: pattern, Err: err}
		}
		if len(matches) == 0 {
			return nil, &Error{Pattern: pattern, Err: ErrNoMatch}
		}
		log.Debug("Resolved input pattern", zap.String("pattern", pattern), zap.Int("files", len(matches)))
		out = append(out, matches...)
	}

	slices.Sort(out)
	return slices.Compact(out), nil
}

func (r *Resolver) resolveLocal(pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
		return nil, fmt.Errorf("%w: bad glob", ErrInvalidPattern)
	}

	base := r.Dir
	if base == "" {
		base = "."
	}
	abs := pattern
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(base, pattern)
	}

	matches, err := doublestar.FilepathGlob(abs, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	for i, m := range matches {
		if a, err := filepath.Abs(m); err == nil {
			matches[i] = a
		}
	}
	return matches, nil
}

func (r *Resolver) resolveS3(ctx context.Context, pattern string) ([]string, error) {
	p, err := parseS3Pattern(pattern)
	if err != nil {
		return nil, err
	}
	if r.S3 == nil {
		client, err := NewS3Client(ctx, r.S3Config)
		if err != nil {
			return nil, err
		}
		r.S3 = client
	}
	return listS3(ctx, r.S3, p)
}
