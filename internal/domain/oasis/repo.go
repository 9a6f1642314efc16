package oasis

import (
	"context"

	"github.com/google/uuid"
)

type ReportRepository interface {
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*Report, error)
	List(ctx context.Context, limit, offset int) ([]*Summary, int, error)
}

// FieldCipher encrypts patient identifiers at rest.
type FieldCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// sealPatient encrypts the patient name and MRN in place. A nil cipher leaves
// them untouched.
func sealPatient(c FieldCipher, p *PatientInfo) error {
	if c == nil {
		return nil
	}
	for _, f := range []*string{&p.PatientName, &p.MRN} {
		if *f == "" {
			continue
		}
		enc, err := c.Encrypt(*f)
		if err != nil {
			return err
		}
		*f = enc
	}
	return nil
}

func openFields(c FieldCipher, fields ...*string) error {
	if c == nil {
		return nil
	}
	for _, f := range fields {
		if *f == "" {
			continue
		}
		dec, err := c.Decrypt(*f)
		if err != nil {
			return err
		}
		*f = dec
	}
	return nil
}
