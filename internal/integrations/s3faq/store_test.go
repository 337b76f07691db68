package s3faq

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	body   string
	err    error
	lastIn *s3.GetObjectInput
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.lastIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestObjectKey(t *testing.T) {
	require.Equal(t, "t1/faq_pl.json", ObjectKey("t1", "pl-PL"))
	require.Equal(t, "t1/faq_en.json", ObjectKey("t1", ""))
	require.Equal(t, "t1/faq_de.json", ObjectKey("t1", "DE"))
}

func TestGetTenantFAQ_NormalizesKeys(t *testing.T) {
	api := &fakeS3{body: `{" Hours ":"6-22","PRICE":"99 PLN","nested":{"x":1}}`}
	s, err := New(api, "kb-bucket")
	require.NoError(t, err)

	faq, err := s.GetTenantFAQ(context.Background(), "t1", "pl")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"hours": "6-22", "price": "99 PLN"}, faq)
	require.Equal(t, "kb-bucket", *api.lastIn.Bucket)
	require.Equal(t, "t1/faq_pl.json", *api.lastIn.Key)
}

func TestGetTenantFAQ_NoSuchKeyIsNotAnError(t *testing.T) {
	s, err := New(&fakeS3{err: &types.NoSuchKey{}}, "kb-bucket")
	require.NoError(t, err)

	faq, err := s.GetTenantFAQ(context.Background(), "t1", "pl")
	require.NoError(t, err)
	require.Nil(t, faq)
}

func TestGetTenantFAQ_OtherErrors(t *testing.T) {
	s, err := New(&fakeS3{err: errors.New("access denied")}, "kb-bucket")
	require.NoError(t, err)

	_, err = s.GetTenantFAQ(context.Background(), "t1", "pl")
	require.ErrorContains(t, err, "access denied")
}

func TestGetTenantFAQ_UnconfiguredBucket(t *testing.T) {
	api := &fakeS3{}
	s, err := New(api, "")
	require.NoError(t, err)

	faq, err := s.GetTenantFAQ(context.Background(), "t1", "pl")
	require.NoError(t, err)
	require.Nil(t, faq)
	require.Nil(t, api.lastIn)
}

func TestGetTenantFAQ_MalformedJSON(t *testing.T) {
	s, err := New(&fakeS3{body: `[1,2]`}, "kb-bucket")
	require.NoError(t, err)

	_, err = s.GetTenantFAQ(context.Background(), "t1", "pl")
	require.ErrorContains(t, err, "decode object")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "b")
	require.ErrorContains(t, err, "must not be nil")
}
