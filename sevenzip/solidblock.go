package sevenzip

// Method identifies one stage of a folder's coder chain: the registry
// method ID that built it and the raw properties blob that configured it
// (e.g. the LZMA dictionary size/lc/lp/pb byte, or an empty slice for a
// coder that doesn't take properties).
type Method struct {
	ID         []byte
	Properties []byte
}

// methods derives the content-method chain for a folder directly from its
// coder list, in the order the coders appear in the on-disk folder
// description. Every file sharing the same solid block reports the same
// chain: there's nothing per-entry to propagate, so unlike a streaming
// format this is a pure function of the folder rather than state carried
// forward from the previous entry.
func (f *folder) methods() []Method {
	methods := make([]Method, len(f.coder))

	for i, c := range f.coder {
		methods[i] = Method{ID: c.id, Properties: c.properties}
	}

	return methods
}

// Methods reports the chain of coders that produced this file's content,
// in encode order (so the first entry is the outermost coder applied when
// the archive was written, i.e. the last one run when decoding). Every
// file within the same solid block — see [File.Stream] — shares the same
// chain, since a folder's coder graph is fixed for all the substreams it
// contains.
func (f *File) Methods() []Method {
	if f.zip == nil || f.zip.si == nil || f.zip.si.unpackInfo == nil {
		return nil
	}

	if f.folder < 0 || f.folder >= len(f.zip.si.unpackInfo.folder) {
		return nil
	}

	return f.zip.si.unpackInfo.folder[f.folder].methods()
}
