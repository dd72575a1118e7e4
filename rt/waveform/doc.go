// Package waveform provides precomputed sample sequences used to modulate a pulse train
// parameter from one train to the next.
//
// An Array is read-only after construction. It owns a private copy of the samples and keeps a
// cyclic cursor: each call to Next returns the sample under the cursor and advances it by one,
// wrapping to index 0 past the end.
//
//	samples, err := waveform.Cosine(64, 64, 0.5, 0.4)
//	if err != nil {
//		return err
//	}
//	arr, _ := waveform.New(samples)
//	v, i := arr.Next() // v == samples[0], i == 0
//
// Cosine is a pure function. It rejects parameters whose samples would leave [0, 1], since
// arrays are typically used as a duty cycle source.
package waveform
