package tar

import (
	"errors"
	"io"
	iofs "io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

var errIsDirectory = errors.New("tar: is a directory")

// FS wraps an indexed tar stream as a read-only [iofs.FS], for callers that
// have an io.ReaderAt over the whole archive (a file on disk, a
// bytes.Reader) rather than wanting to consume it strictly sequentially.
// Unlike sevenzip and zip, tar carries no central directory, so building
// the index costs one full pass over every header before Open becomes
// usable; that pass happens once, lazily, on the first Open.
type FS struct {
	ra randomAccessSource

	once     bool
	fileList []fsEntry
	err      error
}

type randomAccessSource interface {
	ReadAt(p []byte, off int64) (int, error)
	Size() int64
}

// NewFS returns an FS over the tar stream in ra.
func NewFS(ra randomAccessSource) *FS {
	return &FS{ra: ra}
}

type fsEntry struct {
	name    string
	hdr     *Header
	dataOff int64
	isDir   bool
	isDup   bool
}

func (e *fsEntry) stat() (fileInfoDirEntry, error) {
	if e.isDup {
		return nil, errors.New("tar: duplicate entries for " + e.name) //nolint:err113
	}

	if e.hdr == nil {
		return &syntheticDirInfo{name: e.name}, nil
	}

	return &tarFileInfo{hdr: e.hdr, dir: e.isDir}, nil
}

type fileInfoDirEntry interface {
	iofs.FileInfo
	iofs.DirEntry
}

type tarFileInfo struct {
	hdr *Header
	dir bool
}

func (fi *tarFileInfo) Name() string       { _, elem := splitPath(fi.hdr.Name); return elem }
func (fi *tarFileInfo) Size() int64        { return fi.hdr.Size }
func (fi *tarFileInfo) ModTime() time.Time { return fi.hdr.ModTime }
func (fi *tarFileInfo) IsDir() bool        { return fi.dir }
func (fi *tarFileInfo) Sys() interface{}   { return fi.hdr }

func (fi *tarFileInfo) Mode() iofs.FileMode {
	mode := iofs.FileMode(fi.hdr.Mode) & iofs.ModePerm
	if fi.dir {
		mode |= iofs.ModeDir
	}

	if fi.hdr.Typeflag == TypeSymlink {
		mode |= iofs.ModeSymlink
	}

	return mode
}

func (fi *tarFileInfo) Type() iofs.FileMode          { return fi.Mode().Type() }
func (fi *tarFileInfo) Info() (iofs.FileInfo, error) { return fi, nil }

type syntheticDirInfo struct{ name string }

func (s *syntheticDirInfo) Name() string               { _, elem := splitPath(s.name); return elem }
func (s *syntheticDirInfo) Size() int64                { return 0 }
func (s *syntheticDirInfo) Mode() iofs.FileMode        { return iofs.ModeDir | 0o555 }
func (s *syntheticDirInfo) Type() iofs.FileMode        { return iofs.ModeDir }
func (s *syntheticDirInfo) ModTime() time.Time         { return time.Time{} }
func (s *syntheticDirInfo) IsDir() bool                { return true }
func (s *syntheticDirInfo) Sys() interface{}           { return nil }
func (s *syntheticDirInfo) Info() (iofs.FileInfo, error) { return s, nil }

// splitPath normalises name to the (dir, elem) convention readDir and
// entryLess compare against: dir is "." for a top-level entry, never
// carries a trailing slash otherwise.
func splitPath(name string) (dir, elem string) {
	name = path.Clean("/" + name)[1:]
	if name == "" {
		return ".", "."
	}

	d, elem := path.Split(name)

	d = strings.TrimSuffix(d, "/")
	if d == "" {
		d = "."
	}

	return d, elem
}

// index scans the entire stream once, recording each entry's data offset
// so later Opens can hand back an io.SectionReader without re-parsing
// headers. Mirrors how sevenzip.Reader.initFileList synthesizes implied
// parent directories from a flat entry list.
func (f *FS) index() {
	if f.once {
		return
	}

	f.once = true

	sr := &sectionSource{ra: f.ra}
	r := NewReader(sr)

	files := make(map[string]int)
	dirs := make(map[string]struct{})

	for {
		hdr, err := r.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				f.err = err
			}

			break
		}

		name := path.Clean("/" + hdr.Name)[1:]
		if name == "" {
			continue
		}

		isDir := hdr.Typeflag == TypeDir

		entry := fsEntry{name: name, hdr: hdr, dataOff: sr.off, isDir: isDir}

		if idx, ok := files[name]; ok {
			f.fileList[idx].isDup = true

			continue
		}

		idx := len(f.fileList)
		f.fileList = append(f.fileList, entry)
		files[name] = idx

		for dir := path.Dir(name); dir != "."; dir = path.Dir(dir) {
			dirs[dir] = struct{}{}
		}
	}

	for dir := range dirs {
		if _, ok := files[dir]; !ok {
			f.fileList = append(f.fileList, fsEntry{name: dir, isDir: true})
		}
	}

	sort.Slice(f.fileList, func(i, j int) bool {
		return entryLess(f.fileList[i].name, f.fileList[j].name)
	})
}

func entryLess(x, y string) bool {
	xdir, xelem := splitPath(x)
	ydir, yelem := splitPath(y)

	return xdir < ydir || xdir == ydir && xelem < yelem
}

// sectionSource feeds NewReader sequentially while remembering the stream
// offset just past the most recently parsed header, so index() can stash
// each entry's data start without a second pass.
type sectionSource struct {
	ra  randomAccessSource
	pos int64
	off int64
}

func (s *sectionSource) Read(p []byte) (int, error) {
	if s.pos >= s.ra.Size() {
		return 0, io.EOF
	}

	n, err := s.ra.ReadAt(p, s.pos)
	s.pos += int64(n)
	s.off = s.pos

	return n, err
}

// Open implements [iofs.FS].
func (f *FS) Open(name string) (iofs.File, error) {
	f.index()

	if f.err != nil {
		return nil, f.err
	}

	if !iofs.ValidPath(name) {
		return nil, &iofs.PathError{Op: "open", Path: name, Err: iofs.ErrInvalid}
	}

	e := f.lookup(name)
	if e == nil {
		return nil, &iofs.PathError{Op: "open", Path: name, Err: iofs.ErrNotExist}
	}

	if e.isDir {
		return &openDir{e: e, files: f.readDir(name)}, nil
	}

	return &openFile{e: e, r: newOffsetReader(f.ra, e.dataOff, e.hdr.Size)}, nil
}

func (f *FS) lookup(name string) *fsEntry {
	if name == "." {
		return &fsEntry{name: ".", isDir: true}
	}

	for i := range f.fileList {
		if f.fileList[i].name == name {
			return &f.fileList[i]
		}
	}

	return nil
}

func (f *FS) readDir(dir string) []fsEntry {
	var out []fsEntry

	for _, e := range f.fileList {
		d, _ := splitPath(e.name)
		if d == dir {
			out = append(out, e)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })

	return out
}

type openFile struct {
	e *fsEntry
	r *offsetReader
}

func (o *openFile) Stat() (iofs.FileInfo, error) { return o.e.stat() }
func (o *openFile) Read(p []byte) (int, error)   { return o.r.Read(p) }
func (o *openFile) Close() error                 { return nil }

type offsetReader struct {
	ra   randomAccessSource
	off  int64
	left int64
}

func newOffsetReader(ra randomAccessSource, off, size int64) *offsetReader {
	return &offsetReader{ra: ra, off: off, left: size}
}

func (o *offsetReader) Read(p []byte) (int, error) {
	if o.left <= 0 {
		return 0, io.EOF
	}

	if int64(len(p)) > o.left {
		p = p[:o.left]
	}

	n, err := o.ra.ReadAt(p, o.off)
	o.off += int64(n)
	o.left -= int64(n)

	return n, err
}

type openDir struct {
	e      *fsEntry
	files  []fsEntry
	offset int
}

func (d *openDir) Close() error                 { return nil }
func (d *openDir) Stat() (iofs.FileInfo, error) { return d.e.stat() }

func (d *openDir) Read([]byte) (int, error) {
	return 0, &iofs.PathError{Op: "read", Path: d.e.name, Err: errIsDirectory}
}

func (d *openDir) ReadDir(count int) ([]iofs.DirEntry, error) {
	n := len(d.files) - d.offset
	if count > 0 && n > count {
		n = count
	}

	if n == 0 {
		if count <= 0 {
			return nil, nil
		}

		return nil, io.EOF
	}

	list := make([]iofs.DirEntry, n)

	for i := range list {
		s, err := d.files[d.offset+i].stat()
		if err != nil {
			return nil, err
		}

		list[i] = s
	}

	d.offset += n

	return list, nil
}
