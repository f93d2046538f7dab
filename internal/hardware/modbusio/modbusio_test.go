package modbusio

import (
	"errors"
	"testing"

	"github.com/chrissnell/drynomore/internal/power"
)

// fakeModule forwards coil writes into a shift register model and serves
// input registers from a table.
type fakeModule struct {
	reg    *power.Register
	inputs map[uint16]uint16
	fail   error
}

func (f *fakeModule) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	v := f.inputs[address]
	return []byte{byte(v >> 8), byte(v)}, nil
}

func (f *fakeModule) WriteSingleCoil(address, value uint16) ([]byte, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	// coils start at 100 in these tests
	if err := f.reg.Write(power.Pin(address-100), value == coilOn); err != nil {
		return nil, err
	}
	return []byte{byte(value >> 8), byte(value)}, nil
}

func TestMultiplexerThroughCoils(t *testing.T) {
	fake := &fakeModule{reg: power.NewRegister(nil)}
	mux := power.NewMultiplexer(New(fake, 100, 0))

	image := power.DefaultMap.Pump(0) | power.DefaultMap.LinkBit()
	if err := mux.SetImage(image); err != nil {
		t.Fatal(err)
	}
	if got := fake.reg.Outputs(); got != image {
		t.Errorf("outputs = %016b, want %016b", got, image)
	}
}

func TestReadRaw(t *testing.T) {
	fake := &fakeModule{inputs: map[uint16]uint16{30: 0x01F4, 37: 812}}
	m := New(fake, 0, 30)

	if v, err := m.ReadRaw(0); err != nil || v != 500 {
		t.Errorf("ReadRaw(0) = %d, %v", v, err)
	}
	if v, err := m.ReadRaw(7); err != nil || v != 812 {
		t.Errorf("ReadRaw(7) = %d, %v", v, err)
	}
	if _, err := m.ReadRaw(-1); err == nil {
		t.Error("negative channel accepted")
	}

	fake.fail = errors.New("exception 2")
	if _, err := m.ReadRaw(0); !errors.Is(err, fake.fail) {
		t.Errorf("err = %v", err)
	}
}

func TestDialNeedsTarget(t *testing.T) {
	if _, err := Dial(Config{}); err == nil {
		t.Fatal("Dial without address or device succeeded")
	}
}
