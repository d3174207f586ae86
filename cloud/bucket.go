/*
Copyright © 2024 the gribref authors.
This file is part of gribref.

gribref is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

gribref is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with gribref.  If not, see <http://www.gnu.org/licenses/>.
*/


package cloud

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcp"
)

// location is a resource split into the bucket that holds it and its key
// within the bucket.
type location struct {
	// bucket is a name in the format 'provider://name', or a local
	// directory for local files.
	bucket string
	key    string
}

// locate splits a resource URL into its bucket and key. Local paths and
// file:// URLs are opened in their parent directory.
func locate(resource string) (location, error) {
	u, err := url.Parse(resource)
	if err != nil || !strings.Contains(resource, "://") || len(u.Scheme) <= 1 {
		abs, err := filepath.Abs(resource)
		if err != nil {
			return location{}, err
		}
		return location{bucket: filepath.Dir(abs), key: filepath.Base(abs)}, nil
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		p := filepath.FromSlash(u.Host + u.Path)
		return location{bucket: filepath.Dir(p), key: filepath.Base(p)}, nil
	case "s3", "gs", "gcs":
		key := strings.TrimLeft(u.Path, "/")
		if u.Host == "" || key == "" {
			return location{}, fmt.Errorf("cloud: %s must name a bucket and a key", resource)
		}
		return location{bucket: strings.ToLower(u.Scheme) + "://" + u.Host, key: key}, nil
	default:
		return location{}, fmt.Errorf("cloud: invalid provider %s", u.Scheme)
	}
}

// OpenBucket returns the blob storage bucket specified by bucketName,
// where bucketName must be in the format 'provider://name' where provider
// is the name of the storage provider and name is the name of the bucket,
// or a local directory.
// The currently accepted storage providers are "gs" or "gcs" for Google
// Cloud Storage and "s3" for AWS S3.
func OpenBucket(ctx context.Context, bucketName string, opts *Options) (*blob.Bucket, error) {
	if opts == nil {
		opts = new(Options)
	}
	if !strings.Contains(bucketName, "://") {
		return fileblob.OpenBucket(bucketName, nil)
	}
	u, err := url.Parse(bucketName)
	if err != nil {
		return nil, fmt.Errorf("cloud.OpenBucket: %v", err)
	}
	switch u.Scheme {
	case "gs", "gcs":
		return gsBucket(ctx, u.Hostname(), opts)
	case "s3":
		return s3Bucket(ctx, u.Hostname(), opts)
	default:
		return nil, fmt.Errorf("cloud.OpenBucket: invalid provider %s", u.Scheme)
	}
}

func gsBucket(ctx context.Context, name string, opts *Options) (*blob.Bucket, error) {
	if opts.Anonymous {
		return gcsblob.OpenBucket(ctx, gcp.NewAnonymousHTTPClient(gcp.DefaultTransport()), name, nil)
	}
	// See here for information on credentials:
	// https://cloud.google.com/docs/authentication/getting-started
	creds, err := gcp.DefaultCredentials(ctx)
	if err != nil {
		return nil, err
	}
	c, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
	if err != nil {
		return nil, err
	}
	return gcsblob.OpenBucket(ctx, c, name, nil)
}

// s3Bucket opens an s3 storage bucket. Unless opts.Anonymous is set, it
// assumes the following environment variables are set: AWS_ACCESS_KEY_ID
// and AWS_SECRET_ACCESS_KEY. The region is taken from opts, then from
// AWS_REGION, and defaults to us-east-1, where the NOAA open data buckets
// are.
func s3Bucket(ctx context.Context, name string, opts *Options) (*blob.Bucket, error) {
	region := opts.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	c := &aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewEnvCredentials(),
	}
	if opts.Anonymous {
		c.Credentials = credentials.AnonymousCredentials
	}
	if opts.Endpoint != "" {
		c.Endpoint = aws.String(opts.Endpoint)
		c.S3ForcePathStyle = aws.Bool(true)
	}
	s, err := session.NewSession(c)
	if err != nil {
		return nil, err
	}
	return s3blob.OpenBucket(ctx, s, name, nil)
}
