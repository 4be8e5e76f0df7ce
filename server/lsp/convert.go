package lsp

import (
	"errors"
	"fmt"

	"github.com/draftcode/ijaas/completion"
	"github.com/draftcode/ijaas/definition"
	"github.com/draftcode/ijaas/diagnostics"
	"github.com/draftcode/ijaas/errdefs"
	"github.com/draftcode/ijaas/position"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
)

const (
	MethodInitialize         = "initialize"
	MethodInitialized        = "initialized"
	MethodShutdown           = "shutdown"
	MethodExit               = "exit"
	MethodDidOpen            = "textDocument/didOpen"
	MethodDidChange          = "textDocument/didChange"
	MethodDidClose           = "textDocument/didClose"
	MethodDidSave            = "textDocument/didSave"
	MethodCompletion         = "textDocument/completion"
	MethodDefinition         = "textDocument/definition"
	MethodPublishDiagnostics = "textDocument/publishDiagnostics"
)

const (
	codeServerNotInitialized jsonrpc2.Code = -32002
	codeRequestCancelled     jsonrpc2.Code = -32800
)

// initializeParams holds the parts of the initialize request the server
// reads.
type initializeParams struct {
	ProcessID        int32             `json:"processId,omitempty"`
	RootURI          string            `json:"rootUri,omitempty"`
	WorkspaceFolders []workspaceFolder `json:"workspaceFolders,omitempty"`
	ClientInfo       *clientInfo       `json:"clientInfo,omitempty"`
}

type workspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// didChangeParams differs from protocol.DidChangeTextDocumentParams in that a
// change without a range is kept apart from a change of the empty range at
// 0:0.
type didChangeParams struct {
	TextDocument   protocol.VersionedTextDocumentIdentifier `json:"textDocument"`
	ContentChanges []contentChange                          `json:"contentChanges"`
}

type contentChange struct {
	Range *protocol.Range `json:"range,omitempty"`
	Text  string          `json:"text"`
}

func fromProtocolPosition(p protocol.Position) position.Position {
	return position.Position{Line: int(p.Line), Character: int(p.Character)}
}

func toProtocolPosition(p position.Position) protocol.Position {
	return protocol.Position{Line: uint32(p.Line), Character: uint32(p.Character)}
}

func fromProtocolRange(r protocol.Range) position.Range {
	return position.Range{Start: fromProtocolPosition(r.Start), End: fromProtocolPosition(r.End)}
}

func toProtocolRange(r position.Range) protocol.Range {
	return protocol.Range{Start: toProtocolPosition(r.Start), End: toProtocolPosition(r.End)}
}

func toCompletionItemKind(k completion.Kind) protocol.CompletionItemKind {
	switch k {
	case completion.KindMethod:
		return protocol.CompletionItemKindMethod
	case completion.KindKeyword:
		return protocol.CompletionItemKindKeyword
	case completion.KindClass:
		return protocol.CompletionItemKindClass
	case completion.KindVariable:
		return protocol.CompletionItemKindVariable
	default:
		return protocol.CompletionItemKindText
	}
}

func toCompletionList(cs []completion.Candidate) *protocol.CompletionList {
	items := make([]protocol.CompletionItem, 0, len(cs))
	for i, c := range cs {
		item := protocol.CompletionItem{
			Label:      c.Label,
			InsertText: c.InsertText,
			Kind:       toCompletionItemKind(c.Kind),
			Detail:     c.Detail,
			// Clients re-sort by SortText; keep the server's order.
			SortText: sortText(i),
		}
		if c.Documentation != "" {
			item.Documentation = c.Documentation
		}
		items = append(items, item)
	}
	return &protocol.CompletionList{Items: items}
}

func sortText(i int) string {
	return fmt.Sprintf("%05d", i)
}

func toLocation(l definition.Location) protocol.Location {
	return protocol.Location{
		URI:   protocol.DocumentURI(l.URI),
		Range: toProtocolRange(l.Range),
	}
}

func toDiagnostics(diags []diagnostics.Diagnostic) []protocol.Diagnostic {
	out := make([]protocol.Diagnostic, 0, len(diags))
	for _, d := range diags {
		sev := protocol.DiagnosticSeverityWarning
		if d.Severity == diagnostics.SeverityError {
			sev = protocol.DiagnosticSeverityError
		}
		out = append(out, protocol.Diagnostic{
			Range:    toProtocolRange(d.Range),
			Severity: sev,
			Source:   d.Source,
			Message:  d.Message,
		})
	}
	return out
}

// toRPCError maps an error kind onto a JSON-RPC error code.
func toRPCError(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	code := jsonrpc2.InternalError
	switch errdefs.KindOf(err) {
	case errdefs.NotFound, errdefs.ValidationError:
		code = jsonrpc2.InvalidParams
	case errdefs.Timeout:
		code = codeRequestCancelled
	case errdefs.ProtocolError:
		code = jsonrpc2.InvalidRequest
	}
	return jsonrpc2.NewError(code, err.Error())
}
