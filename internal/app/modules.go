package app

import (
	"github.com/specialistvlad/audiogrid/internal/registry"
	"github.com/specialistvlad/audiogrid/modules/audioio"
	"github.com/specialistvlad/audiogrid/modules/fileplayer"
	"github.com/specialistvlad/audiogrid/modules/gain"
	"github.com/specialistvlad/audiogrid/modules/midimonitor"
	"github.com/specialistvlad/audiogrid/modules/oscillator"
)

// coreModules is the definitive list of all node kinds that are compiled
// into the audiogrid binary.
var coreModules = []registry.Module{
	&audioio.Module{},
	&gain.Module{},
	&oscillator.Module{},
	&midimonitor.Module{},
	&fileplayer.Module{},
}
