package blobstore

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3 stores blobs in a single S3 bucket, for embedders that want
// attachments and webxdc archives off the local disk. It satisfies the
// same Store contract as Disk.
type S3 struct {
	bucket string
	prefix string
	client *s3.S3
}

func NewS3(sess *session.Session, bucket, prefix string) *S3 {
	return &S3{bucket: bucket, prefix: prefix, client: s3.New(sess)}
}

func (st *S3) key(name string) string {
	if st.prefix == "" {
		return name
	}
	return st.prefix + "/" + name
}

func (st *S3) Put(ctx context.Context, data []byte) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	name := hex.EncodeToString(b)

	_, err := st.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(st.bucket),
		Key:    aws.String(st.key(name)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("blobstore: S3 Put: %w", err)
	}
	return name, nil
}

func (st *S3) Get(ctx context.Context, name string) ([]byte, error) {
	out, err := st.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(st.bucket),
		Key:    aws.String(st.key(name)),
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: S3 Get: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (st *S3) Delete(ctx context.Context, name string) error {
	_, err := st.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(st.bucket),
		Key:    aws.String(st.key(name)),
	})
	var aerr awserr.Error
	if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
		return nil
	}
	if err != nil {
		return fmt.Errorf("blobstore: S3 Delete: %w", err)
	}
	return nil
}
