// Package failure classifies errors into the five user-visible kinds and
// renders the French message shown to the user for each of them.
//
// Every asynchronous boundary (live bridge events, one-shot generation, record
// store calls) passes its error through [Message] before it reaches the UI;
// the wrapped cause is logged, never displayed raw unless the kind calls for it.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/MrWong99/callcoach/pkg/audio"
)

// Kind is the coarse category of a failure.
type Kind int

const (
	// KindUnknown is anything not classified below.
	KindUnknown Kind = iota

	// KindPermission means microphone access was refused.
	KindPermission

	// KindConnection covers transport failures talking to a remote service.
	KindConnection

	// KindConfiguration means a required credential or endpoint is missing.
	KindConfiguration

	// KindInput means the user supplied nothing usable; no remote call was made.
	KindInput
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindPermission:
		return "permission"
	case KindConnection:
		return "connection"
	case KindConfiguration:
		return "configuration"
	case KindInput:
		return "input"
	default:
		return "unknown"
	}
}

// Operation names, used as the "Erreur lors de …" context of a message.
const (
	OpRecord       = "du démarrage de l'enregistrement"
	OpTranscribe   = "de la transcription du fichier"
	OpAnalyze      = "de l'analyse"
	OpSaveRecord   = "de la sauvegarde de la transcription"
	OpSaveSession  = "de la sauvegarde de la session"
	OpListRecords  = "de la récupération des enregistrements"
	OpDeleteRecord = "de la suppression"
	OpCopy         = "de la copie dans le presse-papiers"
	OpExport       = "de l'export"
)

// Standard user messages.
const (
	MsgPermission      = "L'accès au microphone est requis. Veuillez autoriser l'accès dans les paramètres de votre système."
	MsgUnknown         = "Une erreur inconnue est survenue."
	MsgNoTranscript    = "Aucune transcription à analyser."
	MsgNothingToSave   = "Aucune transcription à sauvegarder."
	MsgNoAnalysis      = "Aucune analyse à sauvegarder."
	MsgNoLinkedText    = "Aucune transcription associée à sauvegarder."
	MsgNameRequired    = "Veuillez entrer un nom pour la transcription."
	MsgSessionName     = "Veuillez entrer un nom pour la session."
	MsgStoreNotReady   = "Configuration de la base de données manquante. Veuillez définir SUPABASE_URL et SUPABASE_ANON_KEY (ou DATABASE_URL) dans votre fichier .env."
	MsgGeminiNotReady  = "Clé API manquante. Veuillez définir GEMINI_API_KEY dans votre fichier .env."
	msgConnectionShape = "Une erreur de connexion est survenue: %s"
)

// Error is a classified failure.
type Error struct {
	Kind Kind

	// Op names the user action that failed, one of the Op constants. Optional.
	Op string

	// Msg, when set, is shown to the user verbatim.
	Msg string

	// Err is the underlying cause. Optional.
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return e.Msg + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Kind.String() + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind and message,
// so sentinel values like [ErrNoTranscript] match with [errors.Is].
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == e.Msg && t.Err == nil
}

// Sentinel input errors.
var (
	ErrNoTranscript  = Input(MsgNoTranscript)
	ErrNothingToSave = Input(MsgNothingToSave)
	ErrNoAnalysis    = Input(MsgNoAnalysis)
	ErrNameRequired  = Input(MsgNameRequired)
)

// Input returns a [KindInput] error carrying msg.
func Input(msg string) *Error {
	return &Error{Kind: KindInput, Msg: msg}
}

// Configuration returns a [KindConfiguration] error carrying msg.
func Configuration(msg string) *Error {
	return &Error{Kind: KindConfiguration, Msg: msg}
}

// Wrap attaches a kind and an operation to err. Returns nil for a nil err.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Within records op on err without changing its kind. Returns nil for nil.
func Within(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Op != "" {
			return err
		}
		cp := *fe
		cp.Op = op
		return &cp
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}

// KindOf classifies err. Explicitly classified errors keep their kind;
// otherwise microphone refusals, network errors and timeouts are recognised.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Kind != KindUnknown {
		return fe.Kind
	}
	if errors.Is(err, audio.ErrPermissionDenied) {
		return KindPermission
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindConnection
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindConnection
	}
	return KindUnknown
}

// Message renders err for the user.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	hasFE := errors.As(err, &fe)
	if hasFE && fe.Msg != "" {
		return fe.Msg
	}

	switch KindOf(err) {
	case KindPermission:
		return MsgPermission
	case KindConnection:
		return fmt.Sprintf(msgConnectionShape, cause(err))
	case KindConfiguration:
		return "Configuration manquante: " + cause(err)
	case KindInput:
		return cause(err)
	}

	if hasFE && fe.Op != "" {
		if fe.Err == nil {
			return "Une erreur inconnue est survenue lors " + fe.Op + "."
		}
		return fmt.Sprintf("Erreur lors %s : %s", fe.Op, fe.Err.Error())
	}
	return MsgUnknown
}

// cause returns the innermost message worth showing.
func cause(err error) string {
	var fe *Error
	if errors.As(err, &fe) && fe.Err != nil {
		return fe.Err.Error()
	}
	return err.Error()
}
