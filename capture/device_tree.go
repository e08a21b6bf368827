package capture

// DeviceItem is a node in the per-device descriptor tree shown in the
// device inspector pane: Device -> DeviceDescriptor/Configuration ->
// Interface -> Endpoint, each with its own descriptor-field leaves.
type DeviceItem struct {
	kind   deviceItemKind
	dev    DeviceID
	conf   uint8
	iface  uint8
	ep     uint8
	field  uint8
}

type deviceItemKind uint8

const (
	deviceItemDevice deviceItemKind = iota
	deviceItemDeviceDescriptor
	deviceItemDeviceDescriptorField
	deviceItemConfiguration
	deviceItemConfigurationDescriptor
	deviceItemConfigurationDescriptorField
	deviceItemInterface
	deviceItemInterfaceDescriptor
	deviceItemInterfaceDescriptorField
	deviceItemEndpointDescriptor
	deviceItemEndpointDescriptorField
)

func DeviceNode(dev DeviceID) DeviceItem { return DeviceItem{kind: deviceItemDevice, dev: dev} }

// Device returns the owning device id of any DeviceItem kind.
func (it DeviceItem) Device() DeviceID { return it.dev }

// DeviceItemCount returns the number of top-level (real, non-synthetic)
// devices when parent is nil, or the number of children of parent
// otherwise.
func (s *Store) DeviceItemCount(parent *DeviceItem) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if parent == nil {
		// device id 0 is the implicit default device, hidden from the
		// top-level device list.
		return uint64(len(s.deviceData)) - 1, nil
	}
	return s.deviceChildCount(*parent), nil
}

// GetDeviceItem returns the index'th top-level device when parent is nil
// (1-based, skipping the implicit device 0), or the index'th child of
// parent otherwise.
func (s *Store) GetDeviceItem(parent *DeviceItem, index uint64) (DeviceItem, error) {
	if parent == nil {
		return DeviceNode(DeviceID(index + 1)), nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceChild(*parent, index), nil
}

func (s *Store) deviceChild(item DeviceItem, index uint64) DeviceItem {
	switch item.kind {
	case deviceItemDevice:
		if index == 0 {
			return DeviceItem{kind: deviceItemDeviceDescriptor, dev: item.dev}
		}
		return DeviceItem{kind: deviceItemConfiguration, dev: item.dev, conf: uint8(index)}
	case deviceItemDeviceDescriptor:
		return DeviceItem{kind: deviceItemDeviceDescriptorField, dev: item.dev, field: uint8(index)}
	case deviceItemConfiguration:
		if index == 0 {
			return DeviceItem{kind: deviceItemConfigurationDescriptor, dev: item.dev, conf: item.conf}
		}
		return DeviceItem{kind: deviceItemInterface, dev: item.dev, conf: item.conf, iface: uint8(index - 1)}
	case deviceItemConfigurationDescriptor:
		return DeviceItem{kind: deviceItemConfigurationDescriptorField, dev: item.dev, conf: item.conf, field: uint8(index)}
	case deviceItemInterface:
		if index == 0 {
			return DeviceItem{kind: deviceItemInterfaceDescriptor, dev: item.dev, conf: item.conf, iface: item.iface}
		}
		return DeviceItem{kind: deviceItemEndpointDescriptor, dev: item.dev, conf: item.conf, iface: item.iface, ep: uint8(index - 1)}
	case deviceItemInterfaceDescriptor:
		return DeviceItem{kind: deviceItemInterfaceDescriptorField, dev: item.dev, conf: item.conf, iface: item.iface, field: uint8(index)}
	case deviceItemEndpointDescriptor:
		return DeviceItem{kind: deviceItemEndpointDescriptorField, dev: item.dev, conf: item.conf, iface: item.iface, ep: item.ep, field: uint8(index)}
	default:
		panic("capture: device item does not have children")
	}
}

func (s *Store) deviceChildCount(item DeviceItem) uint64 {
	data := s.deviceData[item.dev]
	switch item.kind {
	case deviceItemDevice:
		return 1 + uint64(len(data.Configurations))
	case deviceItemDeviceDescriptor:
		if data.DeviceDescriptor != nil {
			return 13
		}
		return 0
	case deviceItemConfiguration:
		cfg, ok := data.Configurations[item.conf]
		if !ok || cfg == nil {
			return 0
		}
		return 1 + uint64(len(cfg.Interfaces))
	case deviceItemConfigurationDescriptor:
		if _, ok := data.Configurations[item.conf]; ok {
			return 7
		}
		return 0
	case deviceItemInterface:
		cfg, ok := data.Configurations[item.conf]
		if !ok || cfg == nil || int(item.iface) >= len(cfg.Interfaces) {
			return 0
		}
		return 1 + uint64(len(cfg.Interfaces[item.iface].Endpoints))
	case deviceItemInterfaceDescriptor:
		return 9
	case deviceItemEndpointDescriptor:
		return 6
	default:
		return 0
	}
}

// GetDeviceSummary renders the one-line label for any device-tree node,
// from device/configuration/interface headers down to individual
// descriptor field lines.
func (s *Store) GetDeviceSummary(item DeviceItem) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch item.kind {
	case deviceItemDevice:
		rec, err := s.devices.Get(uint64(item.dev))
		if err != nil {
			return "", ioErr("get device", err)
		}
		data := s.deviceData[item.dev]
		if data.DeviceDescriptor == nil {
			return fmtDeviceHeader(rec.Address, "Unknown"), nil
		}
		return fmtDeviceHeader(rec.Address, fmtVendorProduct(data.DeviceDescriptor.VendorID, data.DeviceDescriptor.ProductID)), nil
	case deviceItemDeviceDescriptor:
		if s.deviceData[item.dev].DeviceDescriptor != nil {
			return "Device descriptor", nil
		}
		return "No device descriptor", nil
	case deviceItemConfiguration:
		return fmtConfiguration(item.conf), nil
	case deviceItemConfigurationDescriptor:
		return "Configuration descriptor", nil
	case deviceItemInterface:
		return fmtInterface(item.iface), nil
	case deviceItemInterfaceDescriptor:
		return "Interface descriptor", nil
	case deviceItemEndpointDescriptor:
		cfg := s.deviceData[item.dev].Configurations[item.conf]
		ep := cfg.Interfaces[item.iface].Endpoints[item.ep]
		return fmtEndpointHeader(ep), nil
	case deviceItemDeviceDescriptorField:
		data := s.deviceData[item.dev]
		if data.DeviceDescriptor == nil {
			return "", nil
		}
		return deviceDescriptorFieldText(*data.DeviceDescriptor, data.Strings, item.field), nil
	case deviceItemConfigurationDescriptorField:
		data := s.deviceData[item.dev]
		cfg := data.Configurations[item.conf]
		if cfg == nil {
			return "", nil
		}
		return configDescriptorFieldText(cfg, data.Strings, item.field), nil
	case deviceItemInterfaceDescriptorField:
		data := s.deviceData[item.dev]
		cfg := data.Configurations[item.conf]
		if cfg == nil || int(item.iface) >= len(cfg.Interfaces) {
			return "", nil
		}
		return interfaceDescriptorFieldText(&cfg.Interfaces[item.iface], data.Strings, item.field), nil
	case deviceItemEndpointDescriptorField:
		data := s.deviceData[item.dev]
		cfg := data.Configurations[item.conf]
		if cfg == nil || int(item.iface) >= len(cfg.Interfaces) {
			return "", nil
		}
		iface := cfg.Interfaces[item.iface]
		if int(item.ep) >= len(iface.Endpoints) {
			return "", nil
		}
		return endpointDescriptorFieldText(&iface.Endpoints[item.ep], item.field), nil
	default:
		return "", nil
	}
}

