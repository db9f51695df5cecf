// Code generated by hand in the style of go.uber.org/mock's mockgen; keep
// in sync with the Transport interface in transport.go.
package probe_test

import (
	"reflect"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/hollowmark/avrbridge/internal/probe"
)

// MockTransport is a mock of the probe.Transport interface.
type MockTransport struct {
	ctrl     *gomock.Controller
	recorder *MockTransportMockRecorder
}

// MockTransportMockRecorder is the mock recorder for MockTransport.
type MockTransportMockRecorder struct {
	mock *MockTransport
}

// NewMockTransport creates a new mock instance.
func NewMockTransport(ctrl *gomock.Controller) *MockTransport {
	mock := &MockTransport{ctrl: ctrl}
	mock.recorder = &MockTransportMockRecorder{mock}

	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockTransport) EXPECT() *MockTransportMockRecorder {
	return m.recorder
}

func (m *MockTransport) Send(cmd []byte) ([]byte, error) {
	m.ctrl.T.Helper()

	ret := m.ctrl.Call(m, "Send", cmd)
	ret0, _ := ret[0].([]byte)
	ret1, _ := ret[1].(error)

	return ret0, ret1
}

func (mr *MockTransportMockRecorder) Send(cmd interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Send", reflect.TypeOf((*MockTransport)(nil).Send), cmd)
}

func (m *MockTransport) RecvEvent(timeout time.Duration) ([]byte, error) {
	m.ctrl.T.Helper()

	ret := m.ctrl.Call(m, "RecvEvent", timeout)
	ret0, _ := ret[0].([]byte)
	ret1, _ := ret[1].(error)

	return ret0, ret1
}

func (mr *MockTransportMockRecorder) RecvEvent(timeout interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "RecvEvent", reflect.TypeOf((*MockTransport)(nil).RecvEvent), timeout)
}

func (m *MockTransport) ProgramMode(enter bool) error {
	m.ctrl.T.Helper()

	ret := m.ctrl.Call(m, "ProgramMode", enter)
	ret0, _ := ret[0].(error)

	return ret0
}

func (mr *MockTransportMockRecorder) ProgramMode(enter interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "ProgramMode", reflect.TypeOf((*MockTransport)(nil).ProgramMode), enter)
}

func (m *MockTransport) Reset() error {
	m.ctrl.T.Helper()

	ret := m.ctrl.Call(m, "Reset")
	ret0, _ := ret[0].(error)

	return ret0
}

func (mr *MockTransportMockRecorder) Reset() *gomock.Call {
	mr.mock.ctrl.T.Helper()

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Reset", reflect.TypeOf((*MockTransport)(nil).Reset))
}

var _ probe.Transport = (*MockTransport)(nil)
