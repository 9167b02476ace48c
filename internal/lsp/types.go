package lsp

import "encoding/json"

// JSON-RPC and LSP error codes.
const (
	codeParseError       = -32700
	codeInvalidRequest   = -32600
	codeInvalidParams    = -32602
	codeMethodNotFound   = -32601
	codeInternalError    = -32603
	codeUnknownError     = -32001
	codeNotInitialized   = -32002
	codeRequestCancelled = -32800
)

const (
	methodOpenInterface = "textDocument/openInterface"
	methodCancelRequest = "$/cancelRequest"
)

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type initializeParams struct {
	RootURI          string            `json:"rootUri,omitempty"`
	RootPath         string            `json:"rootPath,omitempty"`
	WorkspaceFolders []workspaceFolder `json:"workspaceFolders,omitempty"`
	// InitializationOptions accepts the same shape as didChangeConfiguration.
	InitializationOptions json.RawMessage `json:"initializationOptions,omitempty"`
}

type workspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

type textDocumentIdentifier struct {
	URI string `json:"uri"`
}

type serverCapabilities struct {
	Experimental experimentalCapabilities `json:"experimental"`
}

type experimentalCapabilities struct {
	OpenInterfaceProvider bool `json:"openInterfaceProvider"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type initializeResult struct {
	Capabilities serverCapabilities `json:"capabilities"`
	ServerInfo   *serverInfo        `json:"serverInfo,omitempty"`
}

// openInterfaceParams asks for the textual interface of module Name as seen
// from TextDocument.
type openInterfaceParams struct {
	TextDocument textDocumentIdentifier `json:"textDocument"`
	Name         string                 `json:"name"`
}

type interfaceDetails struct {
	URI string `json:"uri"`
}

type cancelParams struct {
	ID json.RawMessage `json:"id"`
}

type didChangeConfigurationParams struct {
	Settings json.RawMessage `json:"settings"`
}

type lspSettings struct {
	Ifacelsp ifacelspSettings `json:"ifacelsp"`
}

type ifacelspSettings struct {
	Trace *bool `json:"trace,omitempty"`
}
