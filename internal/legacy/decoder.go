// Package legacy reads contract form data written before revisions had their own columns.
// Those rows hold a protobuf-encoded form in contract_revisions.legacy_form_blob.
package legacy

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/javajoker/mc-review-history/internal/models"
)

// Field numbers of the legacy ContractFormData message.
const (
	fieldSubmissionType          protowire.Number = 1
	fieldSubmissionDescription   protowire.Number = 2
	fieldProgramIDs              protowire.Number = 3
	fieldContractType            protowire.Number = 4
	fieldContractExecutionStatus protowire.Number = 5
	fieldContractDateStart       protowire.Number = 6
	fieldContractDateEnd         protowire.Number = 7
	fieldManagedCareEntities     protowire.Number = 8
	fieldFederalAuthorities      protowire.Number = 9
	fieldRiskBasedContract       protowire.Number = 10
	fieldContractDocuments       protowire.Number = 11
	fieldSupportingDocuments     protowire.Number = 12
	fieldStateContacts           protowire.Number = 13
)

// Document and Contact sub-messages share the same three-string layout.
const (
	fieldFirst  protowire.Number = 1
	fieldSecond protowire.Number = 2
	fieldThird  protowire.Number = 3
)

const legacyDateLayout = "2006-01-02"

type DecodeError struct {
	Field  protowire.Number
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Field == 0 {
		return "legacy form: " + e.Reason
	}
	return fmt.Sprintf("legacy form field %d: %s", e.Field, e.Reason)
}

// ProtoDecoder decodes legacy blobs. Unknown fields are skipped.
type ProtoDecoder struct{}

func NewProtoDecoder() *ProtoDecoder {
	return &ProtoDecoder{}
}

func (d *ProtoDecoder) DecodeContractForm(blob []byte) (models.ContractFormData, error) {
	var form models.ContractFormData
	if len(blob) == 0 {
		return form, &DecodeError{Reason: "empty blob"}
	}

	for len(blob) > 0 {
		num, typ, n := protowire.ConsumeTag(blob)
		if n < 0 {
			return form, &DecodeError{Reason: protowire.ParseError(n).Error()}
		}
		blob = blob[n:]

		var err error
		switch num {
		case fieldRiskBasedContract:
			var v uint64
			v, n, err = consumeVarint(num, typ, blob)
			if err == nil {
				risk := v != 0
				form.RiskBasedContract = &risk
			}
		case fieldSubmissionType, fieldSubmissionDescription, fieldProgramIDs, fieldContractType,
			fieldContractExecutionStatus, fieldContractDateStart, fieldContractDateEnd,
			fieldManagedCareEntities, fieldFederalAuthorities:
			var s string
			s, n, err = consumeString(num, typ, blob)
			if err == nil {
				err = setStringField(&form, num, s)
			}
		case fieldContractDocuments, fieldSupportingDocuments, fieldStateContacts:
			var msg []byte
			msg, n, err = consumeBytes(num, typ, blob)
			if err == nil {
				err = appendMessage(&form, num, msg)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, blob)
			if n < 0 {
				err = &DecodeError{Field: num, Reason: protowire.ParseError(n).Error()}
			}
		}
		if err != nil {
			return form, err
		}
		blob = blob[n:]
	}

	return form, nil
}

func setStringField(form *models.ContractFormData, num protowire.Number, s string) error {
	switch num {
	case fieldSubmissionType:
		form.SubmissionType = models.SubmissionType(s)
	case fieldSubmissionDescription:
		form.SubmissionDescription = s
	case fieldProgramIDs:
		form.ProgramIDs = append(form.ProgramIDs, s)
	case fieldContractType:
		form.ContractType = models.ContractType(s)
	case fieldContractExecutionStatus:
		form.ContractExecutionStatus = models.ContractExecutionStatus(s)
	case fieldContractDateStart, fieldContractDateEnd:
		date, err := time.Parse(legacyDateLayout, s)
		if err != nil {
			return &DecodeError{Field: num, Reason: fmt.Sprintf("bad date %q", s)}
		}
		if num == fieldContractDateStart {
			form.ContractDateStart = &date
		} else {
			form.ContractDateEnd = &date
		}
	case fieldManagedCareEntities:
		form.ManagedCareEntities = append(form.ManagedCareEntities, s)
	case fieldFederalAuthorities:
		form.FederalAuthorities = append(form.FederalAuthorities, s)
	}
	return nil
}

func appendMessage(form *models.ContractFormData, num protowire.Number, msg []byte) error {
	a, b, c, err := decodeTriple(num, msg)
	if err != nil {
		return err
	}
	switch num {
	case fieldContractDocuments:
		form.ContractDocuments = append(form.ContractDocuments, models.Document{Name: a, S3URL: b, SHA256: c})
	case fieldSupportingDocuments:
		form.SupportingDocuments = append(form.SupportingDocuments, models.Document{Name: a, S3URL: b, SHA256: c})
	case fieldStateContacts:
		form.StateContacts = append(form.StateContacts, models.Contact{Name: a, TitleRole: b, Email: c})
	}
	return nil
}

func decodeTriple(parent protowire.Number, msg []byte) (string, string, string, error) {
	var values [3]string
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return "", "", "", &DecodeError{Field: parent, Reason: protowire.ParseError(n).Error()}
		}
		msg = msg[n:]

		if num >= fieldFirst && num <= fieldThird {
			s, n, err := consumeString(parent, typ, msg)
			if err != nil {
				return "", "", "", err
			}
			values[num-1] = s
			msg = msg[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, msg)
		if n < 0 {
			return "", "", "", &DecodeError{Field: parent, Reason: protowire.ParseError(n).Error()}
		}
		msg = msg[n:]
	}
	return values[0], values[1], values[2], nil
}

func consumeString(num protowire.Number, typ protowire.Type, b []byte) (string, int, error) {
	v, n, err := consumeBytes(num, typ, b)
	return string(v), n, err
}

func consumeBytes(num protowire.Number, typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, &DecodeError{Field: num, Reason: fmt.Sprintf("expected length-delimited, got wire type %d", typ)}
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, &DecodeError{Field: num, Reason: protowire.ParseError(n).Error()}
	}
	return v, n, nil
}

func consumeVarint(num protowire.Number, typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, &DecodeError{Field: num, Reason: fmt.Sprintf("expected varint, got wire type %d", typ)}
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, &DecodeError{Field: num, Reason: protowire.ParseError(n).Error()}
	}
	return v, n, nil
}
