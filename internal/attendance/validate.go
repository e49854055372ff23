package attendance

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/locales/ja"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	ja_translations "github.com/go-playground/validator/v10/translations/ja"
)

// User-facing validation texts.
const (
	MessageOtherReason     = "その他の理由を入力してください"
	MessageReasonRequired  = "理由を入力してください"
	MessageNoSelection     = "授業を選択してください (または授業がありません)"
	MessageDateOrder       = "終了日は開始日以降を指定してください"
	MessageUnknownType     = "申請種別を選択してください"
	MessageSubmitting      = "送信中..."
	MessageSubmitted       = "申請が完了しました"
	messagePartialTemplate = "一部の申請に失敗しました (成功 %d / 全 %d 件)"
)

var (
	// custom validation tags
	applicationTypeTag = "application_type"
	selectedTag        = "selected"
	otherReasonTag     = "other_reason"
	reasonRequiredTag  = "reason_required"
	dateOrderTag       = "date_order"

	// fields in the order their messages take precedence
	fieldPriority = []string{"reason", "timetable_ids", "end_date", "type"}

	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	validate = validator.New()

	_ja := ja.New()
	uni := ut.New(_ja, _ja)
	translator, _ = uni.GetTranslator("ja")
	_ = ja_translations.RegisterDefaultTranslations(validate, translator)

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(applicationTypeTag, func(fl validator.FieldLevel) bool {
		return ApplicationType(fl.Field().String()).Valid()
	})
	_ = validate.RegisterValidation(selectedTag, func(fl validator.FieldLevel) bool {
		return fl.Field().Len() > 0
	}, true)
	validate.RegisterStructValidation(submissionStructValidation, submissionInput{})

	registerTranslation(applicationTypeTag, MessageUnknownType)
	registerTranslation(selectedTag, MessageNoSelection)
	registerTranslation(otherReasonTag, MessageOtherReason)
	registerTranslation(reasonRequiredTag, MessageReasonRequired)
	registerTranslation(dateOrderTag, MessageDateOrder)
}

func registerTranslation(tag, text string) {
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, true) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

type submissionInput struct {
	Type         ApplicationType `json:"type" validate:"application_type"`
	Category     string          `json:"category"`
	Reason       string          `json:"reason"`
	TimetableIDs []int           `json:"timetable_ids" validate:"selected"`
	Start        time.Time       `json:"start_date"`
	End          time.Time       `json:"end_date"`
}

func submissionStructValidation(sl validator.StructLevel) {
	in := sl.Current().Interface().(submissionInput)
	reason := strings.TrimSpace(in.Reason)
	if in.Type == TypeExcused {
		if in.Category == ReasonOther && reason == "" {
			sl.ReportError(in.Reason, "reason", "Reason", otherReasonTag, "")
		}
		if in.End.Before(in.Start) {
			sl.ReportError(in.End, "end_date", "End", dateOrderTag, "")
		}
		return
	}
	if reason == "" {
		sl.ReportError(in.Reason, "reason", "Reason", reasonRequiredTag, "")
	}
}

// FieldError is a single failed rule.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError is returned when a form cannot be submitted. Message is the
// text to show; Fields lists every failed rule.
type ValidationError struct {
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	return "attendance: " + e.Message
}

// AsValidationError unwraps err into a *ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

func validateSubmission(in submissionInput) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err
	}
	ve := &ValidationError{}
	byField := make(map[string]string, len(errs))
	for _, fe := range errs {
		text := fe.Translate(translator)
		ve.Fields = append(ve.Fields, FieldError{Field: fe.Field(), Error: text})
		if _, seen := byField[fe.Field()]; !seen {
			byField[fe.Field()] = text
		}
	}
	for _, field := range fieldPriority {
		if text, ok := byField[field]; ok {
			ve.Message = text
			break
		}
	}
	if ve.Message == "" {
		ve.Message = ve.Fields[0].Error
	}
	return ve
}
