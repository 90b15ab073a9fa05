package sandbox

import "strings"

// preambleHeader is prepended to every script. It defines the snapshot
// helpers and loads step inputs from the scratch directory.
const preambleHeader = `import atexit as _plunge_atexit
import json as _plunge_json
import os as _plunge_os

_PLUNGE_SNAPSHOT = "context_snapshot.json"
_PLUNGE_INPUTS = "inputs.json"
_PLUNGE_PLAIN_TYPES = (int, float, str, bool, list, dict, tuple, type(None))


def _plunge_restore():
    if not _plunge_os.path.exists(_PLUNGE_SNAPSHOT):
        return
    try:
        with open(_PLUNGE_SNAPSHOT, "r", encoding="utf-8") as _fh:
            _saved = _plunge_json.load(_fh)
    except (OSError, ValueError):
        return
    if isinstance(_saved, dict):
        globals().update(_saved)


def save_context(bindings=None, **extra):
    """Persist variables so later steps can read them."""
    if bindings is None:
        bindings = {
            _name: _value
            for _name, _value in globals().items()
            if not _name.startswith("_")
            and _name not in ("save_context", "inputs")
            and isinstance(_value, _PLUNGE_PLAIN_TYPES)
        }
    else:
        bindings = dict(bindings)
    bindings.update(extra)
    _current = {}
    if _plunge_os.path.exists(_PLUNGE_SNAPSHOT):
        try:
            with open(_PLUNGE_SNAPSHOT, "r", encoding="utf-8") as _fh:
                _current = _plunge_json.load(_fh)
        except (OSError, ValueError):
            _current = {}
        if not isinstance(_current, dict):
            _current = {}
    for _name, _value in bindings.items():
        try:
            _plunge_json.dumps(_value)
        except (TypeError, ValueError):
            continue
        _current[_name] = _value
    with open(_PLUNGE_SNAPSHOT, "w", encoding="utf-8") as _fh:
        _plunge_json.dump(_current, _fh)
`

// preambleRestore reloads the previous snapshot into globals. Included
// only when the invocation asks for restored context.
const preambleRestore = `
_plunge_restore()
`

// preambleInputs binds the step's input parameters to the inputs
// variable and registers the exit-time snapshot save.
const preambleInputs = `
inputs = {}
if _plunge_os.path.exists(_PLUNGE_INPUTS):
    try:
        with open(_PLUNGE_INPUTS, "r", encoding="utf-8") as _fh:
            inputs = _plunge_json.load(_fh)
    except (OSError, ValueError):
        inputs = {}

_plunge_atexit.register(save_context)
`

// ComposeScript wraps user code with the runtime preamble. The preamble
// restores previously saved variables when restoreContext is set, binds
// step inputs, and arranges for plain JSON-serializable globals to be
// written back to the snapshot file when the interpreter exits.
func ComposeScript(code string, restoreContext bool) string {
	var b strings.Builder
	b.WriteString(preambleHeader)
	if restoreContext {
		b.WriteString(preambleRestore)
	}
	b.WriteString(preambleInputs)
	b.WriteString("\n")
	b.WriteString(code)
	if !strings.HasSuffix(code, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}
