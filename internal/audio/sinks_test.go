package audio

import (
	"context"
	"reflect"
	"testing"

	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/stretchr/testify/require"
)

func TestListOutputDevicesFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := ListOutputDevices(context.Background())
	require.Error(t, err)
}

func TestSelectOutputDeviceFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := SelectOutputDevice(context.Background(), "default")
	require.Error(t, err)
}

func TestSinkAvailable(t *testing.T) {
	require.False(t, sinkAvailable(nil))
	require.True(t, sinkAvailable(&pulseproto.GetSinkInfoReply{})) // no ports => available

	available := &pulseproto.GetSinkInfoReply{ActivePortName: "speaker"}
	setSinkPorts(t, available, []sourcePort{{name: "speaker", available: 2}})
	require.True(t, sinkAvailable(available))

	notAvailable := &pulseproto.GetSinkInfoReply{ActivePortName: "speaker"}
	setSinkPorts(t, notAvailable, []sourcePort{{name: "speaker", available: 1}})
	require.False(t, sinkAvailable(notAvailable))

	inactivePort := &pulseproto.GetSinkInfoReply{ActivePortName: "speaker"}
	setSinkPorts(t, inactivePort, []sourcePort{{name: "hdmi", available: 1}})
	require.True(t, sinkAvailable(inactivePort))
}

func setSinkPorts(t *testing.T, reply *pulseproto.GetSinkInfoReply, ports []sourcePort) {
	t.Helper()

	sliceType := reflect.TypeOf(reply.Ports)
	sliceValue := reflect.MakeSlice(sliceType, len(ports), len(ports))

	for i, port := range ports {
		item := sliceValue.Index(i)
		item.FieldByName("Name").SetString(port.name)
		item.FieldByName("Available").SetUint(uint64(port.available))
	}

	replyValue := reflect.ValueOf(reply).Elem().FieldByName("Ports")
	replyValue.Set(sliceValue)
}
