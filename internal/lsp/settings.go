package lsp

import "encoding/json"

func (s *Server) handleDidChangeConfiguration(msg *rpcMessage) error {
	if len(msg.Params) == 0 {
		return nil
	}
	var params didChangeConfigurationParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil
	}
	s.applySettings(params.Settings)
	return nil
}

func (s *Server) applySettings(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var settings lspSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		s.logger.Debug("ignoring malformed settings", "err", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if settings.Ifacelsp.Trace != nil {
		s.traceLSP = *settings.Ifacelsp.Trace
	}
}
