package container_test

import (
	"bytes"
	"context"

	"github.com/datavision/des/container"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// memRR is an in-memory RangeReader used only by these tests; the real
// implementations are reader.FileRangeReader and reader.S3RangeReader.
type memRR struct{ buf []byte }

func (m *memRR) Size(context.Context) (int64, error) { return int64(len(m.buf)), nil }
func (m *memRR) ReadRange(_ context.Context, offset, length int64) ([]byte, error) {
	return m.buf[offset : offset+length], nil
}

var _ = Describe("container codec", func() {
	It("round-trips a multi-file container (S1)", func() {
		var buf bytes.Buffer
		enc, err := container.NewEncoder(&buf)
		Expect(err).NotTo(HaveOccurred())

		off1, err := enc.WriteData([]byte("hello"))
		Expect(err).NotTo(HaveOccurred())
		moff1, mlen1 := enc.AppendMeta([]byte("{}"))
		enc.AddEntry(container.IndexEntry{Name: "a.txt", DataOffset: off1, DataLength: 5, MetaOffset: moff1, MetaLength: mlen1})

		off2, err := enc.WriteData([]byte{0x00, 0x01, 0x02})
		Expect(err).NotTo(HaveOccurred())
		moff2, mlen2 := enc.AppendMeta([]byte("{}"))
		enc.AddEntry(container.IndexEntry{Name: "b.bin", DataOffset: off2, DataLength: 3, MetaOffset: moff2, MetaLength: mlen2})

		footer, err := enc.Close()
		Expect(err).NotTo(HaveOccurred())
		Expect(footer.FileCount).To(BeEquivalentTo(2))

		dec, err := container.Open(context.Background(), &memRR{buf: buf.Bytes()})
		Expect(err).NotTo(HaveOccurred())

		entries, err := dec.LoadIndex(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(2))

		byName := map[string]container.IndexEntry{}
		for _, e := range entries {
			byName[e.Name] = e
		}
		data, err := dec.ReadData(context.Background(), byName["a.txt"])
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("hello"))
	})

	It("rejects a flipped footer magic (S4)", func() {
		var buf bytes.Buffer
		enc, _ := container.NewEncoder(&buf)
		off, _ := enc.WriteData([]byte("x"))
		moff, mlen := enc.AppendMeta([]byte("{}"))
		enc.AddEntry(container.IndexEntry{Name: "x", DataOffset: off, DataLength: 1, MetaOffset: moff, MetaLength: mlen})
		_, err := enc.Close()
		Expect(err).NotTo(HaveOccurred())

		corrupted := append([]byte(nil), buf.Bytes()...)
		footerStart := len(corrupted) - container.FooterSize
		copy(corrupted[footerStart:], []byte("BADMAGIC"))

		_, err = container.Open(context.Background(), &memRR{buf: corrupted})
		Expect(err).To(HaveOccurred())
	})

	It("rejects objects smaller than the minimum size", func() {
		_, err := container.Open(context.Background(), &memRR{buf: make([]byte, 10)})
		Expect(err).To(HaveOccurred())
	})

	It("validates filenames per the allowed charset", func() {
		Expect(container.ValidateName("ok_name-1.txt")).To(Succeed())
		Expect(container.ValidateName("")).NotTo(Succeed())
		Expect(container.ValidateName("bad name")).NotTo(Succeed())
	})
})
