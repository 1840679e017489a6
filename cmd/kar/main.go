// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/devblok/koruview/utility/kar"
)

func currentUserName() string {
	u, err := user.Current()
	if err != nil || u.Name == "" {
		return "unknown"
	}
	return u.Name
}

var (
	author   = flag.String("author", currentUserName(), "Set the author of the package when compressing")
	version  = flag.Int64("version", 1, "Archive version number to create it with")
	extract  = flag.String("e", "", "Extract the archive given")
	compress = flag.String("c", "", "Compress the given file/folder")
	list     = flag.String("l", "", "List the contents of the archive given")
	dstFile  = flag.String("f", "out.kar", "Destination file when compressing")
	dstDir   = flag.String("d", ".", "Destination directory when extracting")
	silent   = flag.Bool("s", false, "Silent")
)

func main() {
	flag.Parse()

	var ops int
	for _, op := range []string{*extract, *compress, *list} {
		if op != "" {
			ops++
		}
	}

	var err error
	switch {
	case ops > 1:
		err = errors.New("only one operation at a time")
	case *compress != "":
		err = compressFiles()
	case *extract != "":
		err = extractFiles()
	case *list != "":
		err = listFiles()
	default:
		flag.PrintDefaults()
	}
	if err != nil {
		log.WithError(err).Fatal("kar")
	}
}

func newBar(max int64, description string) *progressbar.ProgressBar {
	if *silent {
		return progressbar.DefaultSilent(max, description)
	}
	return progressbar.Default(max, description)
}

func newBytesBar(max int64, description string) *progressbar.ProgressBar {
	if *silent {
		return progressbar.DefaultBytesSilent(max, description)
	}
	return progressbar.DefaultBytes(max, description)
}

func compressFiles() error {
	if _, err := os.Stat(*dstFile); err == nil {
		return errors.New("destination file exists, will not overwrite")
	}

	root := filepath.Clean(*compress)
	var filesToCompress []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		filesToCompress = append(filesToCompress, path)
		return nil
	})
	if err != nil {
		return err
	}

	karBuilder, err := kar.NewBuilder(kar.Header{
		Author:      *author,
		DateCreated: time.Now().Unix(),
		Version:     *version,
	})
	if err != nil {
		return err
	}
	defer karBuilder.Close()

	bar := newBar(int64(len(filesToCompress)), "compressing")
	var group errgroup.Group
	group.SetLimit(runtime.NumCPU())
	for _, ftc := range filesToCompress {
		ftc := ftc
		group.Go(func() error {
			name, err := archiveName(root, ftc)
			if err != nil {
				return err
			}
			f, err := os.Open(ftc)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := karBuilder.Add(name, f); err != nil {
				return err
			}
			return bar.Add(1)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	bar.Finish()

	dst, err := os.Create(*dstFile)
	if err != nil {
		return err
	}
	if _, err := karBuilder.WriteTo(dst); err != nil {
		dst.Close()
		os.Remove(*dstFile)
		return err
	}
	return dst.Close()
}

// archiveName is the slash separated path of file relative to root, or
// the base name when a single file is compressed.
func archiveName(root, file string) (string, error) {
	if root == file {
		return filepath.Base(file), nil
	}
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func extractFiles() error {
	archive, err := kar.OpenFile(*extract)
	if err != nil {
		return err
	}
	defer archive.Close()

	header := archive.Header()
	bar := newBytesBar(header.Size(), "extracting")
	for _, name := range archive.List() {
		if err := extractFile(archive, name, bar); err != nil {
			return errors.Wrap(err, name)
		}
	}
	return bar.Finish()
}

func extractFile(archive *kar.Archive, name string, bar io.Writer) error {
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		return errors.New("refusing to extract outside the destination")
	}
	path := filepath.Join(*dstDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	r, err := archive.Open(name)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(io.MultiWriter(f, bar), r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func listFiles() error {
	archive, err := kar.OpenFile(*list)
	if err != nil {
		return err
	}
	defer archive.Close()

	header := archive.Header()
	fmt.Printf("author: %s\nversion: %d\ncreated: %s\n\n",
		header.Author, header.Version, time.Unix(header.DateCreated, 0).Format(time.RFC3339))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "size\tcompressed\tname\t")
	for _, e := range header.Index {
		fmt.Fprintf(w, "%d\t%d\t%s\t\n", e.Size, e.CompressedSize, e.Name)
	}
	return w.Flush()
}
