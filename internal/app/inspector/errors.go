package inspector

import (
	"fmt"

	"github.com/dkeye/fieldlink/internal/domain"
)

var (
	errNotOpen     = fmt.Errorf("%w: no frame open", domain.ErrPrecondition)
	errWrongMode   = fmt.Errorf("%w: not in annotate mode", domain.ErrPrecondition)
	errModeActive  = fmt.Errorf("%w: go back to the menu first", domain.ErrPrecondition)
	errBusy        = fmt.Errorf("%w: another step is in progress", domain.ErrPrecondition)
	errNoSelection = fmt.Errorf("%w: no candidate selected", domain.ErrPrecondition)
	errBadIndex    = fmt.Errorf("%w: candidate index out of range", domain.ErrPrecondition)
	errNoRecording = fmt.Errorf("%w: no voice note recording", domain.ErrPrecondition)
)
