package encryption

import "io"

// NoopEncryptor passes data through unchanged. Intended for deployments that
// handle encryption at the storage layer (for example an S3 bucket with
// server-side encryption enforced).
type NoopEncryptor struct{}

var _ Encryptor = (*NoopEncryptor)(nil)

// NewNoopEncryptor creates a pass-through encryptor.
func NewNoopEncryptor() *NoopEncryptor {
	return &NoopEncryptor{}
}

func (e *NoopEncryptor) Setup(string) error { return nil }

func (e *NoopEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}

func (e *NoopEncryptor) Unlock(string) (DecryptionContext, error) {
	return &NoopDecryptionContext{}, nil
}

func (e *NoopEncryptor) IsConfigured() bool { return true }

// NoopDecryptionContext passes data through unchanged.
type NoopDecryptionContext struct{}

var _ DecryptionContext = (*NoopDecryptionContext)(nil)

func (c *NoopDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}
