package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

var errAborted = errors.New("upload aborted")

// S3 is a Store over a bucket and key prefix. Region and credentials come
// from the shared AWS configuration (environment, ~/.aws).
type S3 struct {
	client   s3iface.S3API
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

func NewS3(_ context.Context, bucket, prefix string) (*S3, error) {
	sess, err := session.NewSessionWithOptions(session.Options{SharedConfigState: session.SharedConfigEnable})
	if err != nil {
		return nil, fmt.Errorf("objstore: aws session: %w", err)
	}
	return NewS3WithClient(s3.New(sess), bucket, prefix), nil
}

// NewS3WithClient uses an existing client, e.g. one pointed at a local
// S3-compatible endpoint.
func NewS3WithClient(client s3iface.S3API, bucket, prefix string) *S3 {
	return &S3{
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
		bucket:   bucket,
		prefix:   prefix,
	}
}

func (s *S3) key(key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return k, nil
	}
	return path.Join(s.prefix, k), nil
}

func (s *S3) URL(key string) string {
	k, err := s.key(key)
	if err != nil {
		return ""
	}
	return "s3://" + s.bucket + "/" + k
}

// Create starts a streaming upload. Nothing is visible under key until the
// upload completes on Close; Abort cancels it and any multipart parts are
// discarded by the uploader.
func (s *S3) Create(ctx context.Context, key string) (Writer, error) {
	k, err := s.key(key)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	w := &s3Writer{pw: pw, cancel: cancel, done: make(chan struct{}), url: s.URL(key)}
	go func() {
		defer close(w.done)
		_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(k),
			Body:   pr,
		})
		pr.CloseWithError(err)
		w.uploadErr = err
	}()
	return w, nil
}

func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	k, err := s.key(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(k),
	})
	if err != nil {
		return nil, s.wrap(key, err)
	}
	return out.Body, nil
}

func (s *S3) Stat(ctx context.Context, key string) (Info, error) {
	k, err := s.key(key)
	if err != nil {
		return Info{}, err
	}
	out, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(k),
	})
	if err != nil {
		return Info{}, s.wrap(key, err)
	}
	return Info{Key: key, Size: aws.Int64Value(out.ContentLength), ModTime: aws.TimeValue(out.LastModified)}, nil
}

// Remove deletes key. S3 reports success for missing keys, so Remove does too.
func (s *S3) Remove(ctx context.Context, key string) error {
	k, err := s.key(key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(k),
	})
	if err != nil {
		return s.wrap(key, err)
	}
	return nil
}

func (s *S3) wrap(key string, err error) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return fmt.Errorf("objstore: %s: %w", s.URL(key), ErrNotFound)
		}
	}
	return fmt.Errorf("objstore: %s: %w", s.URL(key), err)
}

type s3Writer struct {
	pw     *io.PipeWriter
	cancel context.CancelFunc
	done   chan struct{}
	url    string

	uploadErr error

	once sync.Once
	err  error
}

func (w *s3Writer) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *s3Writer) Close() error {
	w.once.Do(func() {
		w.pw.Close()
		<-w.done
		w.cancel()
		if w.uploadErr != nil {
			w.err = fmt.Errorf("objstore: upload %s: %w", w.url, w.uploadErr)
		}
	})
	return w.err
}

func (w *s3Writer) Abort() error {
	w.once.Do(func() {
		w.cancel()
		w.pw.CloseWithError(errAborted)
		<-w.done
	})
	return nil
}
