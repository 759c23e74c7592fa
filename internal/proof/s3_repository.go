package proof

import (
	"bytes"
	"context"
	"io"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
)

type S3Config struct {
	Region   string
	Bucket   string
	Prefix   string
	Endpoint string
}

// S3Repository keeps artifacts as objects under Prefix in Bucket.
type S3Repository struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

func NewS3Repository(config S3Config) (*S3Repository, error) {
	awsConfig := &aws.Config{Region: aws.String(config.Region)}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create s3 session")
	}
	return newS3Repository(sess, config), nil
}

func newS3Repository(sess *session.Session, config S3Config) *S3Repository {
	return &S3Repository{
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		bucket:   config.Bucket,
		prefix:   config.Prefix,
	}
}

func (r *S3Repository) key(id string) string { return path.Join(r.prefix, id) }

func (r *S3Repository) Find(ctx context.Context, id string) (*Artifact, error) {
	output, err := r.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key(id)),
	})
	if err != nil {
		var awsErr awserr.Error
		if errors.As(err, &awsErr) && (awsErr.Code() == s3.ErrCodeNoSuchKey || awsErr.Code() == "NotFound") {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to get artifact %s", id)
	}
	defer output.Body.Close()
	enc, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read artifact %s", id)
	}
	return DecodeArtifact(enc)
}

func (r *S3Repository) Save(ctx context.Context, id string, artifact *Artifact) error {
	enc, err := artifact.Encode()
	if err != nil {
		return err
	}
	_, err = r.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(r.key(id)),
		Body:        bytes.NewReader(enc),
		ContentType: aws.String("application/octet-stream"),
	})
	return errors.Wrapf(err, "failed to upload artifact %s", id)
}

func (r *S3Repository) Close() {}
