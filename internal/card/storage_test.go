package card

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		dir     string
		storage *LocalStorage
	)

	BeforeEach(func() {
		dir = filepath.Join(GinkgoT().TempDir(), "contacts")
		var err error
		storage, err = NewLocalStorage(dir)
		Expect(err).NotTo(HaveOccurred())
	})

	It("creates the base directory", func() {
		info, err := os.Stat(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
	})

	It("writes the file and returns its path", func() {
		path, err := storage.Save("contact.vcf", []byte("BEGIN:VCARD\n"))
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal(filepath.Join(dir, "contact.vcf")))

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("BEGIN:VCARD\n"))
	})

	It("keeps only the base name", func() {
		path, err := storage.Save("../../escape.vcf", []byte("x"))
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal(filepath.Join(dir, "escape.vcf")))
	})

	It("rejects empty names", func() {
		_, err := storage.Save("", []byte("x"))
		Expect(err).To(HaveOccurred())
	})
})
