//go:build windows

package pydiscovery

import (
	"golang.org/x/sys/windows/registry"
)

// winRegistryKey adapts golang.org/x/sys/windows/registry to registryKey.
type winRegistryKey struct {
	key    registry.Key
	access uint32
}

func (k *winRegistryKey) SubKeyNames() ([]string, error) {
	return k.key.ReadSubKeyNames(-1)
}

func (k *winRegistryKey) OpenSubKey(name string) (registryKey, error) {
	sub, err := registry.OpenKey(k.key, name, k.access)
	if err != nil {
		return nil, err
	}
	return &winRegistryKey{key: sub, access: k.access}, nil
}

func (k *winRegistryKey) StringValue(name string) (string, bool) {
	value, _, err := k.key.GetStringValue(name)
	if err != nil {
		return "", false
	}
	return value, true
}

func (k *winRegistryKey) Close() error { return k.key.Close() }

func openHive(hive registry.Key, view uint32) func() (registryKey, error) {
	return func() (registryKey, error) {
		access := uint32(registry.READ | registry.ENUMERATE_SUB_KEYS | view)
		key, err := registry.OpenKey(hive, `Software\Python`, access)
		if err != nil {
			return nil, err
		}
		return &winRegistryKey{key: key, access: access}, nil
	}
}

func platformRegistryRoots() []registryRoot {
	return []registryRoot{
		{HiveName: "HKEY_CURRENT_USER", DefaultArch: 64, Open: openHive(registry.CURRENT_USER, 0)},
		{HiveName: "HKEY_LOCAL_MACHINE", DefaultArch: 64, Open: openHive(registry.LOCAL_MACHINE, registry.WOW64_64KEY)},
		{HiveName: "HKEY_LOCAL_MACHINE", DefaultArch: 32, Open: openHive(registry.LOCAL_MACHINE, registry.WOW64_32KEY)},
	}
}
