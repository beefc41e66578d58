package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	sc "github.com/dmitrijs2005/recordguard/internal/server/config"
	"github.com/dmitrijs2005/recordguard/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	if in.Body != nil {
		f.body, _ = io.ReadAll(in.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func testS3Config() *sc.Config {
	cfg := &sc.Config{}
	cfg.LoadDefaults()
	cfg.S3RootUser = "minio"
	cfg.S3RootPassword = "minio-secret"
	return cfg
}

func stubS3(t *testing.T, putter objectPutter, loadErr error) (*awsconfig.LoadOptions, *s3.Options) {
	t.Helper()
	origLoad, origClient := loadDefaultAWSConfig, newS3ClientFromConfig
	t.Cleanup(func() {
		loadDefaultAWSConfig, newS3ClientFromConfig = origLoad, origClient
	})

	var lo awsconfig.LoadOptions
	var so s3.Options
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		return aws.Config{}, loadErr
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) objectPutter {
		for _, fn := range optFns {
			fn(&so)
		}
		return putter
	}
	return &lo, &so
}

func TestNewS3ReportSink_Options(t *testing.T) {
	lo, so := stubS3(t, &fakePutter{}, nil)

	sink, err := NewS3ReportSink(context.Background(), testS3Config())
	require.NoError(t, err)
	assert.Equal(t, "integrity-reports", sink.bucket)

	assert.Equal(t, "us-east-1", lo.Region)
	require.NotNil(t, lo.Credentials)
	creds, err := lo.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "minio", creds.AccessKeyID)
	assert.Equal(t, "minio-secret", creds.SecretAccessKey)

	require.NotNil(t, so.BaseEndpoint)
	assert.Equal(t, "http://127.0.0.1:9000/", *so.BaseEndpoint)
	assert.True(t, so.UsePathStyle)
}

func TestNewS3ReportSink_LoadError(t *testing.T) {
	stubS3(t, &fakePutter{}, errors.New("load-fail"))

	_, err := NewS3ReportSink(context.Background(), testS3Config())
	assert.ErrorContains(t, err, "load-fail")
}

func TestS3ReportSink_UploadsReport(t *testing.T) {
	putter := &fakePutter{}
	stubS3(t, putter, nil)
	sink, err := NewS3ReportSink(context.Background(), testS3Config())
	require.NoError(t, err)
	sink.now = func() time.Time { return time.Date(2024, 3, 10, 2, 0, 5, 0, time.UTC) }

	require.NoError(t, sink.IntegrityViolation(context.Background(), sampleReport()))

	require.NotNil(t, putter.input)
	assert.Equal(t, "integrity-reports", aws.ToString(putter.input.Bucket))
	assert.Regexp(t, regexp.MustCompile(`^integrity/2024/03/10/[0-9a-f-]{36}\.json$`), aws.ToString(putter.input.Key))
	assert.Equal(t, "application/json", aws.ToString(putter.input.ContentType))

	var got models.IntegrityReport
	require.NoError(t, json.Unmarshal(putter.body, &got))
	assert.Equal(t, 100, got.Checked)
	assert.Equal(t, []string{"e-17"}, got.Failed)
}

func TestS3ReportSink_UploadError(t *testing.T) {
	stubS3(t, &fakePutter{err: errors.New("bucket missing")}, nil)
	sink, err := NewS3ReportSink(context.Background(), testS3Config())
	require.NoError(t, err)

	err = sink.IntegrityViolation(context.Background(), sampleReport())
	assert.ErrorContains(t, err, "bucket missing")
	assert.ErrorContains(t, err, "upload report integrity/")
}

func TestReportKey_Unique(t *testing.T) {
	d := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	assert.NotEqual(t, ReportKey(d), ReportKey(d))
}
