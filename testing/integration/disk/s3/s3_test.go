package s3

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
	thumbs3 "github.com/zoobzio/thumb/s3"
	"github.com/zoobzio/thumb/testing/integration/disk"
)

var tc *disk.TestContext

const testBucket = "thumb-contract"

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := localstack.Run(ctx,
		"localstack/localstack:latest",
		testcontainers.WithEnv(map[string]string{
			"SERVICES": "s3",
		}),
	)
	if err != nil {
		panic("failed to start localstack container: " + err.Error())
	}

	endpoint, err := container.PortEndpoint(ctx, "4566/tcp", "http")
	if err != nil {
		panic("failed to get localstack endpoint: " + err.Error())
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	if err != nil {
		panic("failed to load AWS config: " + err.Error())
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(testBucket)}); err != nil {
		panic("failed to create test bucket: " + err.Error())
	}
	waiter := s3.NewBucketExistsWaiter(client)
	if err := waiter.Wait(ctx, &s3.HeadBucketInput{Bucket: aws.String(testBucket)}, 30*time.Second); err != nil {
		panic("bucket not ready: " + err.Error())
	}

	tc = &disk.TestContext{
		Provider: thumbs3.New(client, testBucket).WithPublicURL(endpoint + "/" + testBucket),
		Cleanup: func() {
			out, _ := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(testBucket)})
			if out != nil {
				for _, obj := range out.Contents {
					_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(testBucket), Key: obj.Key})
				}
			}
			_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(testBucket)})
			_ = container.Terminate(ctx)
		},
	}

	code := m.Run()

	tc.Cleanup()

	os.Exit(code)
}

func TestS3_CRUD(t *testing.T) {
	disk.RunCRUDTests(t, tc)
}

func TestS3_List(t *testing.T) {
	disk.RunListTests(t, tc)
}

func TestS3_Generation(t *testing.T) {
	disk.RunGenerationTests(t, tc)
}
