package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"stockpile/internal/config"
	"stockpile/internal/fileutil"
	"stockpile/internal/logging"
	"stockpile/internal/queue"
	"stockpile/internal/services"
)

// ObjectAPI is the subset of the S3 client the cloud drive uses.
type ObjectAPI interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// CloudDrive reads input media from, and publishes projects to, an
// S3-compatible bucket.
type CloudDrive struct {
	client       ObjectAPI
	bucket       string
	inputPrefix  string
	outputPrefix string
	publicURL    string
	logger       *slog.Logger
}

// NewCloudDrive builds an S3 client from configuration.
func NewCloudDrive(ctx context.Context, cfg config.CloudDrive, logger *slog.Logger) (*CloudDrive, error) {
	awsCfg, err := buildAWSConfig(ctx, cfg)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "cloud drive", "build aws config", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewCloudDriveWithClient(client, cfg, logger), nil
}

// NewCloudDriveWithClient wires an existing client, used by tests.
func NewCloudDriveWithClient(client ObjectAPI, cfg config.CloudDrive, logger *slog.Logger) *CloudDrive {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CloudDrive{
		client:       client,
		bucket:       cfg.Bucket,
		inputPrefix:  cfg.InputPrefix,
		outputPrefix: cfg.OutputPrefix,
		publicURL:    strings.TrimRight(cfg.PublicURL, "/"),
		logger:       logging.NewComponentLogger(logger, "cloud-drive"),
	}
}

func buildAWSConfig(ctx context.Context, cfg config.CloudDrive) (aws.Config, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	// The retry engine owns retries.
	optFns = append(optFns, awsconfig.WithRetryMaxAttempts(1))
	optFns = append(optFns, awsconfig.WithHTTPClient(&http.Client{Timeout: 10 * time.Minute}))
	return awsconfig.LoadDefaultConfig(ctx, optFns...)
}

func (c *CloudDrive) Kind() queue.Source { return queue.SourceCloudDrive }

func (c *CloudDrive) Size(ctx context.Context, ref string) (int64, error) {
	out, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		return 0, classify("head", ref, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// List returns media objects under the input prefix.
func (c *CloudDrive) List(ctx context.Context) ([]Object, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(c.bucket)}
	if c.inputPrefix != "" {
		input.Prefix = aws.String(c.inputPrefix)
	}
	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(c.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("list", c.inputPrefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") || !IsSupportedMedia(key) {
				continue
			}
			objects = append(objects, Object{
				Ref:     key,
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

// Fetch downloads ref into destDir. An existing file of the same size is
// reused.
func (c *CloudDrive) Fetch(ctx context.Context, ref, destDir string) (string, error) {
	target := filepath.Join(destDir, path.Base(ref))
	size, err := c.Size(ctx, ref)
	if err != nil {
		return "", err
	}
	if info, statErr := os.Stat(target); statErr == nil && info.Size() == size {
		return target, nil
	}

	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		return "", classify("get", ref, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransient, "transcribed", "fetch", destDir, err)
	}
	tmp := target + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "transcribed", "fetch", tmp, err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", services.Wrap(services.ErrNetwork, "transcribed", "fetch", ref, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", services.Wrap(services.ErrTransient, "transcribed", "fetch", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return "", services.Wrap(services.ErrTransient, "transcribed", "fetch", target, err)
	}
	c.logger.Info("fetched cloud media",
		logging.String("key", ref),
		logging.Int64("bytes", size),
	)
	return target, nil
}

// Store uploads every file under localDir to <output prefix><name>/ and
// returns a public URL when configured, otherwise an s3:// link.
func (c *CloudDrive) Store(ctx context.Context, localDir, name string) (string, error) {
	base := c.outputPrefix + name + "/"
	uploaded := 0
	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || fileutil.IsPartial(p) {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		key := base + filepath.ToSlash(rel)
		if err := c.upload(ctx, p, key); err != nil {
			return err
		}
		uploaded++
		return nil
	})
	if err != nil {
		if services.IsMarked(err) {
			return "", err
		}
		return "", services.Wrap(services.ErrTransient, "organized", "upload", localDir, err)
	}
	c.logger.Info("uploaded project",
		logging.String("prefix", base),
		logging.Int("files", uploaded),
	)
	if c.publicURL != "" {
		return c.publicURL + "/" + base, nil
	}
	return fmt.Sprintf("s3://%s/%s", c.bucket, base), nil
}

func (c *CloudDrive) upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(localPath)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return classify("put", key, err)
	}
	return nil
}

func classify(op, key string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case isNotFoundError(err):
		return services.Wrap(services.ErrNotFound, "", "s3 "+op, key, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return services.Wrap(services.ErrAuthentication, "", "s3 "+op, key, err)
		case "NoSuchBucket", "PermanentRedirect", "AuthorizationHeaderMalformed":
			return services.Wrap(services.ErrConfiguration, "", "s3 "+op, key, err)
		case "SlowDown", "RequestLimitExceeded", "TooManyRequests":
			return services.Wrap(services.ErrRateLimited, "", "s3 "+op, key, err)
		}
		return services.Wrap(services.ErrTransient, "", "s3 "+op, key, err)
	}
	return services.Wrap(services.ErrNetwork, "", "s3 "+op, key, err)
}

func isNotFoundError(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}
