package domain

import (
	"fmt"
	"path/filepath"
)

// ConnectionKind identifies how a kernel is launched or attached to
type ConnectionKind string

const (
	// KindLocalKernelSpec starts a kernel from a kernelspec on a locally launched server
	KindLocalKernelSpec ConnectionKind = "startUsingKernelSpec"
	// KindPythonKernelSpec starts a kernel derived from a Python interpreter
	KindPythonKernelSpec ConnectionKind = "startUsingPythonInterpreter"
	// KindRemoteKernelSpec starts a new kernel from a kernelspec on a remote server
	KindRemoteKernelSpec ConnectionKind = "startUsingRemoteKernelSpec"
	// KindLiveRemoteKernel attaches to a kernel that is already running remotely
	KindLiveRemoteKernel ConnectionKind = "connectToLiveKernel"
)

// KernelSpec is the subset of a Jupyter kernelspec needed to start a session
type KernelSpec struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name,omitempty"`
	Language    string   `json:"language,omitempty"`
	Argv        []string `json:"argv,omitempty"`
}

// Interpreter describes a local Python environment
type Interpreter struct {
	Path        string `json:"path"`
	DisplayName string `json:"display_name,omitempty"`
	Version     string `json:"version,omitempty"`
}

// LiveKernel is a kernel already running on a server
type LiveKernel struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ExecutionState string `json:"execution_state,omitempty"`
}

// KernelConnectionMetadata describes which kernel a session talks to.
// Values are replaced wholesale on a kernel switch and never mutated.
type KernelConnectionMetadata struct {
	Kind        ConnectionKind `json:"kind"`
	ID          string         `json:"id"`
	KernelSpec  *KernelSpec    `json:"kernel_spec,omitempty"`
	Interpreter *Interpreter   `json:"interpreter,omitempty"`
	LiveKernel  *LiveKernel    `json:"kernel_model,omitempty"`
	BaseURL     string         `json:"base_url,omitempty"`
}

// NewLocalKernelSpecConnection builds metadata for a local kernelspec
func NewLocalKernelSpecConnection(spec KernelSpec, interp *Interpreter) KernelConnectionMetadata {
	return KernelConnectionMetadata{
		Kind:        KindLocalKernelSpec,
		ID:          "local:" + spec.Name,
		KernelSpec:  &spec,
		Interpreter: interp,
	}
}

// NewPythonKernelConnection builds metadata for an interpreter-derived kernelspec
func NewPythonKernelConnection(interp Interpreter) KernelConnectionMetadata {
	name := "python3"
	return KernelConnectionMetadata{
		Kind: KindPythonKernelSpec,
		ID:   "python:" + interp.Path,
		KernelSpec: &KernelSpec{
			Name:        name,
			DisplayName: interp.DisplayName,
			Language:    "python",
			Argv:        []string{interp.Path, "-m", "ipykernel_launcher", "-f", "{connection_file}"},
		},
		Interpreter: &interp,
	}
}

// NewRemoteKernelSpecConnection builds metadata for a kernelspec on a remote server
func NewRemoteKernelSpecConnection(baseURL string, spec KernelSpec) KernelConnectionMetadata {
	return KernelConnectionMetadata{
		Kind:       KindRemoteKernelSpec,
		ID:         "remote:" + baseURL + ":" + spec.Name,
		KernelSpec: &spec,
		BaseURL:    baseURL,
	}
}

// NewLiveKernelConnection builds metadata for an existing remote kernel
func NewLiveKernelConnection(baseURL string, kernel LiveKernel) KernelConnectionMetadata {
	return KernelConnectionMetadata{
		Kind:       KindLiveRemoteKernel,
		ID:         "live:" + baseURL + ":" + kernel.ID,
		LiveKernel: &kernel,
		BaseURL:    baseURL,
	}
}

// IsLocal reports whether the kernel runs on the local machine
func (m KernelConnectionMetadata) IsLocal() bool {
	return m.Kind == KindLocalKernelSpec || m.Kind == KindPythonKernelSpec
}

// KernelName returns the kernelspec name used when requesting a session
func (m KernelConnectionMetadata) KernelName() string {
	switch {
	case m.Kind == KindLiveRemoteKernel && m.LiveKernel != nil:
		return m.LiveKernel.Name
	case m.KernelSpec != nil:
		return m.KernelSpec.Name
	}
	return ""
}

// DisplayName returns a human readable label for errors and events
func (m KernelConnectionMetadata) DisplayName() string {
	switch m.Kind {
	case KindLiveRemoteKernel:
		if m.LiveKernel != nil {
			return fmt.Sprintf("%s (%s)", m.LiveKernel.Name, m.LiveKernel.ID)
		}
	case KindPythonKernelSpec:
		if m.Interpreter != nil {
			if m.Interpreter.DisplayName != "" {
				return m.Interpreter.DisplayName
			}
			return filepath.Base(m.Interpreter.Path)
		}
	}
	if m.KernelSpec != nil {
		if m.KernelSpec.DisplayName != "" {
			return m.KernelSpec.DisplayName
		}
		return m.KernelSpec.Name
	}
	return m.ID
}
