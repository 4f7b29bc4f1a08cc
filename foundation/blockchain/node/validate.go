package node

import (
	en_locale "github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// wireValidate checks the structural shape of a decoded gossip payload
// (required fields present, amounts non-negative) before it ever reaches
// the mempool or ledger, the way the teacher's API layer validates a
// decoded request body before handing it to business logic. This is a
// distinct, earlier check than the ledger's own semantic validation
// (signature, balance, proof-of-work): a transaction can be well-formed
// here and still be rejected later for insufficient balance or a bad
// signature.
var wireValidate = validator.New()

// wireTranslator turns wireValidate's field-level errors into the English
// sentences logged when a malformed frame is rejected, instead of the raw
// struct-path error validator.Struct returns on its own.
var wireTranslator ut.Translator

func init() {
	english := en_locale.New()
	uni := ut.New(english, english)

	trans, _ := uni.GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(wireValidate, trans); err == nil {
		wireTranslator = trans
	}
}

// validateWire runs wireValidate against v and returns a human-readable
// description of every failed field, or "" if v is well-formed.
func validateWire(v any) string {
	err := wireValidate.Struct(v)
	if err == nil {
		return ""
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok || wireTranslator == nil {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Translate(wireTranslator))
	}

	out := msgs[0]
	for _, m := range msgs[1:] {
		out += "; " + m
	}
	return out
}
