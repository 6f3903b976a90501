package secureframe

// PackCounterRecordForTest exposes the stored record layout so tests
// can seed raw counter state.
var PackCounterRecordForTest = packCounterRecord
