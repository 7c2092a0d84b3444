// Package sim generates synthetic CSI for demos, soak runs and tests.
//
// A Generator models a static room as a line-of-sight path per antenna
// pair plus Rayleigh-faded diffuse scatter, and a person as one extra
// reflector whose strength depends on where they stand relative to the
// antenna pair. Each frame also carries a random timing offset and carrier
// phase offset, which the signal conditioner is expected to remove.
//
// What happens in the room is described by a Scenario: an ordered list of
// segments, each lasting a number of frames with nobody present, a person
// standing still, or a person walking.
package sim
