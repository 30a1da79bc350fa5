// Copyright 2026 The imagecache authors.
// SPDX-License-Identifier: Apache-2.0

// imagecache fetches remote images through a local two-tier cache and writes
// them to disk.  Repeated invocations against the same cache directory reuse
// cached payloads, revalidating them with conditional requests.
package main

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/PaulARoy/azurestoragecache"
	"github.com/die-net/lrucache"
	"github.com/die-net/lrucache/twotier"
	"github.com/gomodule/redigo/redis"
	rediscache "github.com/gregjones/httpcache/redis"
	"golang.org/x/sync/errgroup"

	"github.com/fetchcache/imagecache"
	"github.com/fetchcache/imagecache/data"
	"github.com/fetchcache/imagecache/internal/diskcache"
	"github.com/fetchcache/imagecache/internal/envflag"
	"github.com/fetchcache/imagecache/internal/fetch"
	"github.com/fetchcache/imagecache/internal/gcscache"
	"github.com/fetchcache/imagecache/internal/memcache"
	"github.com/fetchcache/imagecache/internal/s3cache"
	"github.com/fetchcache/imagecache/transform"
)

var memSize = flag.Int64("memSize", 64, "memory tier capacity in megabytes")
var memCount = flag.Int("memCount", 0, "maximum number of entries in the memory tier (0 for unlimited)")
var memTTL = flag.Duration("memTTL", 0, "lifetime of memory tier entries (0 for unlimited)")
var diskDir = flag.String("disk", defaultDiskDir(), "directory for the disk tier")
var diskSize = flag.Int64("diskSize", 0, "disk tier capacity in megabytes (0 for unlimited)")
var diskFileSize = flag.Int64("diskFileSize", 0, "largest single file the disk tier accepts, in megabytes (0 for unlimited)")
var diskTTL = flag.Duration("diskTTL", 0, "lifetime of disk tier entries (0 for unlimited)")
var byteCache tieredByteCache
var options = flag.String("options", "", "comma separated fetch directives (memonly, cacheonly, refresh, orig, noetag, dsN)")
var outDir = flag.String("out", ".", "directory to write fetched images to")
var timeout = flag.Duration("timeout", 30*time.Second, "time limit for fetching all images")
var userAgent = flag.String("userAgent", "fetchcache/imagecache", "user-agent sent with remote requests")
var verbose = flag.Bool("verbose", false, "print verbose logging messages")

func init() {
	flag.Var(&byteCache, "cache", "byte store replacing the disk tier (azure://, gcs://, memory:SIZE, redis://, s3://); repeat to stack tiers")
}

func defaultDiskDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "imagecache"
	}
	return filepath.Join(dir, "imagecache")
}

func main() {
	flag.Parse()
	envflag.Parse("IMAGECACHE")

	urls := flag.Args()
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "usage: imagecache [flags] url...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cache, err := newCache()
	if err != nil {
		log.Fatal(err)
	}
	defer cache.Close()

	opt := imagecache.ParseOptions(*options)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, u := range urls {
		u := u
		g.Go(func() error {
			img, err := cache.Fetch(ctx, u, opt)
			if err != nil {
				return fmt.Errorf("fetching %s: %w", u, err)
			}
			if img == nil {
				log.Printf("%s: not cached", u)
				return nil
			}
			return write(u, img, opt)
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}

// newCache assembles the two-tier cache from command line flags.
func newCache() (*imagecache.ImageCache, error) {
	memory := memcache.New[string, *data.Image](data.MegaBytes(*memSize), *memCount, (*data.Image).ByteSize)
	if *memTTL > 0 {
		memory.SetPolicy(data.After(*memTTL), data.FromLastAccess)
	}

	disk, err := diskTier()
	if err != nil {
		return nil, err
	}

	fetcher, err := fetch.New(nil)
	if err != nil {
		return nil, err
	}
	fetcher.UserAgent = *userAgent

	cache, err := imagecache.New(memory, disk, fetcher)
	if err != nil {
		return nil, err
	}
	cache.Verbose = *verbose
	return cache, nil
}

// diskTier builds the second cache tier: a remote byte store when one was
// given with -cache, the local filesystem otherwise.
func diskTier() (imagecache.DiskTier, error) {
	if byteCache.Cache != nil {
		tier := imagecache.NewByteTier(byteCache.Cache)
		if *diskTTL > 0 {
			tier.SetPolicy(data.After(*diskTTL), data.FromCreation)
		}
		return tier, nil
	}

	maxBytes, maxFile := data.Unbounded, data.Unbounded
	if *diskSize > 0 {
		maxBytes = data.MegaBytes(*diskSize)
	}
	if *diskFileSize > 0 {
		maxFile = data.MegaBytes(*diskFileSize)
	}

	disk, err := diskcache.New[*data.Image](*diskDir, maxBytes, maxFile, (*data.Image).ByteSize)
	if err != nil {
		return nil, err
	}
	if *diskTTL > 0 {
		disk.SetPolicy(data.After(*diskTTL), data.FromCreation)
	}
	return disk, nil
}

// write stores the fetched image under outDir, downsampling first when the
// options ask for it.
func write(rawurl string, img *data.Image, opt imagecache.Options) error {
	b := img.Bytes
	if opt.DownsampleScale != 0 && !opt.ShowOriginal {
		var err error
		b, err = transform.Downsample(b, opt.DownsampleScale)
		if err != nil {
			return fmt.Errorf("downsampling %s: %w", rawurl, err)
		}
	}

	name := filepath.Join(*outDir, outputName(rawurl))
	if err := os.WriteFile(name, b, 0644); err != nil {
		return err
	}
	if *verbose {
		log.Printf("%s -> %s (%d bytes)", rawurl, name, len(b))
	}
	return nil
}

// outputName derives a local filename from the image URL, falling back to a
// hash of the URL when the path has no usable base name.
func outputName(rawurl string) string {
	if u, err := url.Parse(rawurl); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			return base
		}
	}
	h := md5.New()
	_, _ = io.WriteString(h, rawurl)
	return hex.EncodeToString(h.Sum(nil))
}

// tieredByteCache allows specifying multiple byte stores via flags, which are
// stacked using the twotier package.
type tieredByteCache struct {
	imagecache.Cache
}

func (tc *tieredByteCache) String() string {
	return fmt.Sprint(*tc)
}

func (tc *tieredByteCache) Set(value string) error {
	for _, v := range strings.Fields(value) {
		c, err := parseByteCache(v)
		if err != nil {
			return err
		}

		if tc.Cache == nil {
			tc.Cache = c
		} else {
			tc.Cache = twotier.New(tc.Cache, c)
		}
	}
	return nil
}

// parseByteCache returns the byte store named by c.
func parseByteCache(c string) (imagecache.Cache, error) {
	if c == "" {
		return nil, nil
	}

	u, err := url.Parse(c)
	if err != nil {
		return nil, fmt.Errorf("error parsing cache flag: %w", err)
	}

	switch u.Scheme {
	case "azure":
		return azurestoragecache.New("", "", u.Host)
	case "gcs":
		return gcscache.New(u.Host, strings.TrimPrefix(u.Path, "/"))
	case "memory":
		return lruByteCache(u.Opaque)
	case "redis":
		conn, err := redis.DialURL(u.String(), redis.DialPassword(os.Getenv("REDIS_PASSWORD")))
		if err != nil {
			return nil, err
		}
		return rediscache.NewWithClient(conn), nil
	case "s3":
		if *diskTTL > 0 {
			return s3cache.NewWithLifetime(u.String(), *diskTTL)
		}
		return s3cache.New(u.String())
	default:
		return nil, fmt.Errorf("unsupported cache scheme: %q", c)
	}
}

// lruByteCache creates an in-memory byte store with the specified options of
// the form "maxSize:maxAge".  maxSize is specified in megabytes, maxAge is a
// duration.
func lruByteCache(options string) (*lrucache.LruCache, error) {
	parts := strings.SplitN(options, ":", 2)
	size, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, err
	}

	var age time.Duration
	if len(parts) > 1 {
		age, err = time.ParseDuration(parts[1])
		if err != nil {
			return nil, err
		}
	}

	return lrucache.New(size*1e6, int64(age.Seconds())), nil
}
