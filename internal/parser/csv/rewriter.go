package csv

import (
	"bytes"
	"io"
)

// rewriter replaces every occurrence of pat with repl in a byte stream
// without buffering the whole input. The last len(pat)-1 bytes of each chunk
// are held back so a match spanning two reads is still found.
type rewriter struct {
	src  io.Reader
	pat  []byte
	repl []byte
	hold []byte
	out  bytes.Buffer
	done bool
}

const rewriteChunk = 32 * 1024

func newRewriter(src io.Reader, pat, repl string) io.Reader {
	if pat == "" || pat == repl {
		return src
	}
	return &rewriter{src: src, pat: []byte(pat), repl: []byte(repl)}
}

func (r *rewriter) Read(p []byte) (int, error) {
	for r.out.Len() == 0 {
		if r.done {
			return 0, io.EOF
		}
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
	return r.out.Read(p)
}

func (r *rewriter) fill() error {
	buf := make([]byte, len(r.hold), len(r.hold)+rewriteChunk)
	copy(buf, r.hold)
	n, err := r.src.Read(buf[len(buf):cap(buf)])
	buf = bytes.ReplaceAll(buf[:len(buf)+n], r.pat, r.repl)

	switch {
	case err == io.EOF:
		r.out.Write(buf)
		r.hold = r.hold[:0]
		r.done = true
		return nil
	case err != nil:
		return err
	}

	keep := len(r.pat) - 1
	if len(buf) <= keep {
		r.hold = append(r.hold[:0], buf...)
		return nil
	}
	r.out.Write(buf[:len(buf)-keep])
	r.hold = append(r.hold[:0], buf[len(buf)-keep:]...)
	return nil
}
