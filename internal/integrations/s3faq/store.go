package s3faq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3API is the minimal S3 interface required by Store.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store reads tenant FAQ documents (a flat JSON object of topic to answer)
// from <bucket>/<tenant>/faq_<lang>.json.
type Store struct {
	api    s3API
	bucket string
}

// New creates a Store. An empty bucket yields a Store that never finds anything.
func New(api s3API, bucket string) (*Store, error) {
	if api == nil {
		return nil, errors.New("s3faq: api must not be nil")
	}
	return &Store{api: api, bucket: strings.TrimSpace(bucket)}, nil
}

// ObjectKey returns the object key of a tenant FAQ. Region subtags are
// dropped and an empty language reads the English document.
func ObjectKey(tenantID, languageCode string) string {
	lang := strings.ToLower(strings.TrimSpace(languageCode))
	if lang == "" {
		lang = "en"
	}
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return tenantID + "/faq_" + lang + ".json"
}

// GetTenantFAQ returns the tenant's FAQ with normalized topic keys, or nil
// when the bucket is unset or the document does not exist.
func (s *Store) GetTenantFAQ(ctx context.Context, tenantID, languageCode string) (map[string]string, error) {
	if s.bucket == "" {
		return nil, nil
	}
	key := ObjectKey(tenantID, languageCode)

	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, fmt.Errorf("s3faq: get object %q: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(out.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("s3faq: read object %q: %w", key, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("s3faq: decode object %q: %w", key, err)
	}
	faq := make(map[string]string, len(doc))
	for k, v := range doc {
		answer, ok := v.(string)
		if !ok {
			continue
		}
		faq[strings.ToLower(strings.TrimSpace(k))] = answer
	}
	return faq, nil
}
