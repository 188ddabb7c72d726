package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"paygrid/core"
	"paygrid/crypto"
	"paygrid/storage"
)

const (
	testAuthToken = "rpc-test-token"
	testNow       = int64(1_700_000_000)
)

var (
	testAdmin        = testAddr(0x01)
	testFeeRecipient = testAddr(0x02)
	testAuthority    = testAddr(0x03)
	testGatewayFee   = testAddr(0x04)
	testOwner        = testAddr(0x05)
	testRecipient    = testAddr(0x06)
	testMint         = testAddr(0x07)
)

func testAddr(b byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = b
	}
	return addr
}

func bech(addr [20]byte) string {
	return crypto.MustAddress(addr).String()
}

type testEnv struct {
	t      *testing.T
	node   *core.Node
	server *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	node := core.NewNode(storage.NewMemDB())
	node.SetNowFunc(func() int64 { return testNow })
	allocs := []core.TokenAllocation{{
		Owner:   testOwner,
		Mint:    testMint,
		Balance: big.NewInt(1_000_000),
	}}
	if err := node.Bootstrap(testAdmin, testFeeRecipient, 250, 5, allocs); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	server := NewServer(node)
	server.authToken = testAuthToken
	return &testEnv{t: t, node: node, server: server}
}

func (env *testEnv) newRequest() *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "192.0.2.10:50000"
	req.Header.Set("Authorization", "Bearer "+testAuthToken)
	return req
}

func marshalParam(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal param: %v", err)
	}
	return data
}

func decodeRPCResponse(t *testing.T, recorder *httptest.ResponseRecorder) (json.RawMessage, *RPCError) {
	t.Helper()
	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, recorder.Body.String())
	}
	return resp.Result, resp.Error
}

// post drives a request through the full handle pipeline, auth included.
func (env *testEnv) post(t *testing.T, method string, payload interface{}, authorized bool) *httptest.ResponseRecorder {
	t.Helper()
	req := RPCRequest{JSONRPC: jsonRPCVersion, Method: method, ID: 1}
	if payload != nil {
		req.Params = []json.RawMessage{marshalParam(t, payload)}
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	httpReq.RemoteAddr = "192.0.2.10:50000"
	httpReq.Header.Set("Content-Type", "application/json")
	if authorized {
		httpReq.Header.Set("Authorization", "Bearer "+testAuthToken)
	}
	recorder := httptest.NewRecorder()
	env.server.handle(recorder, httpReq)
	return recorder
}

func (env *testEnv) mustResult(t *testing.T, method string, payload interface{}, out interface{}) {
	t.Helper()
	recorder := env.post(t, method, payload, true)
	result, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr != nil {
		t.Fatalf("%s: unexpected error %d %s (%v)", method, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	}
	if out != nil {
		if err := json.Unmarshal(result, out); err != nil {
			t.Fatalf("%s: decode result: %v", method, err)
		}
	}
}
