package compute

import "strconv"

// Status is a raw OpenCL status code (cl_int).
type Status int32

// OpenCL 1.2 status codes.
const (
	StatusSuccess                   Status = 0
	StatusDeviceNotFound            Status = -1
	StatusDeviceNotAvailable        Status = -2
	StatusCompilerNotAvailable      Status = -3
	StatusMemObjectAllocationFailed Status = -4
	StatusOutOfResources            Status = -5
	StatusOutOfHostMemory           Status = -6
	StatusProfilingInfoNotAvailable Status = -7
	StatusMemCopyOverlap            Status = -8
	StatusImageFormatMismatch       Status = -9
	StatusImageFormatNotSupported   Status = -10
	StatusBuildProgramFailure       Status = -11
	StatusMapFailure                Status = -12

	StatusInvalidValue                  Status = -30
	StatusInvalidDeviceType             Status = -31
	StatusInvalidPlatform               Status = -32
	StatusInvalidDevice                 Status = -33
	StatusInvalidContext                Status = -34
	StatusInvalidQueueProperties        Status = -35
	StatusInvalidCommandQueue           Status = -36
	StatusInvalidHostPtr                Status = -37
	StatusInvalidMemObject              Status = -38
	StatusInvalidImageFormatDescriptor  Status = -39
	StatusInvalidImageSize              Status = -40
	StatusInvalidSampler                Status = -41
	StatusInvalidBinary                 Status = -42
	StatusInvalidBuildOptions           Status = -43
	StatusInvalidProgram                Status = -44
	StatusInvalidProgramExecutable      Status = -45
	StatusInvalidKernelName             Status = -46
	StatusInvalidKernelDefinition       Status = -47
	StatusInvalidKernel                 Status = -48
	StatusInvalidArgIndex               Status = -49
	StatusInvalidArgValue               Status = -50
	StatusInvalidArgSize                Status = -51
	StatusInvalidKernelArgs             Status = -52
	StatusInvalidWorkDimension          Status = -53
	StatusInvalidWorkGroupSize          Status = -54
	StatusInvalidWorkItemSize           Status = -55
	StatusInvalidGlobalOffset           Status = -56
	StatusInvalidEventWaitList          Status = -57
	StatusInvalidEvent                  Status = -58
	StatusInvalidOperation              Status = -59
	StatusInvalidGLObject               Status = -60
	StatusInvalidBufferSize             Status = -61
	StatusInvalidMipLevel               Status = -62
	StatusInvalidGlobalWorkSize         Status = -63
	StatusInvalidProperty               Status = -64

	// StatusPlatformNotFound is returned by the ICD loader when no platform
	// is installed (cl_khr_icd).
	StatusPlatformNotFound Status = -1001
)

var statusNames = map[Status]string{
	StatusSuccess:                      "CL_SUCCESS",
	StatusDeviceNotFound:               "CL_DEVICE_NOT_FOUND",
	StatusDeviceNotAvailable:           "CL_DEVICE_NOT_AVAILABLE",
	StatusCompilerNotAvailable:         "CL_COMPILER_NOT_AVAILABLE",
	StatusMemObjectAllocationFailed:    "CL_MEM_OBJECT_ALLOCATION_FAILURE",
	StatusOutOfResources:               "CL_OUT_OF_RESOURCES",
	StatusOutOfHostMemory:              "CL_OUT_OF_HOST_MEMORY",
	StatusProfilingInfoNotAvailable:    "CL_PROFILING_INFO_NOT_AVAILABLE",
	StatusMemCopyOverlap:               "CL_MEM_COPY_OVERLAP",
	StatusImageFormatMismatch:          "CL_IMAGE_FORMAT_MISMATCH",
	StatusImageFormatNotSupported:      "CL_IMAGE_FORMAT_NOT_SUPPORTED",
	StatusBuildProgramFailure:          "CL_BUILD_PROGRAM_FAILURE",
	StatusMapFailure:                   "CL_MAP_FAILURE",
	StatusInvalidValue:                 "CL_INVALID_VALUE",
	StatusInvalidDeviceType:            "CL_INVALID_DEVICE_TYPE",
	StatusInvalidPlatform:              "CL_INVALID_PLATFORM",
	StatusInvalidDevice:                "CL_INVALID_DEVICE",
	StatusInvalidContext:               "CL_INVALID_CONTEXT",
	StatusInvalidQueueProperties:       "CL_INVALID_QUEUE_PROPERTIES",
	StatusInvalidCommandQueue:          "CL_INVALID_COMMAND_QUEUE",
	StatusInvalidHostPtr:               "CL_INVALID_HOST_PTR",
	StatusInvalidMemObject:             "CL_INVALID_MEM_OBJECT",
	StatusInvalidImageFormatDescriptor: "CL_INVALID_IMAGE_FORMAT_DESCRIPTOR",
	StatusInvalidImageSize:             "CL_INVALID_IMAGE_SIZE",
	StatusInvalidSampler:               "CL_INVALID_SAMPLER",
	StatusInvalidBinary:                "CL_INVALID_BINARY",
	StatusInvalidBuildOptions:          "CL_INVALID_BUILD_OPTIONS",
	StatusInvalidProgram:               "CL_INVALID_PROGRAM",
	StatusInvalidProgramExecutable:     "CL_INVALID_PROGRAM_EXECUTABLE",
	StatusInvalidKernelName:            "CL_INVALID_KERNEL_NAME",
	StatusInvalidKernelDefinition:      "CL_INVALID_KERNEL_DEFINITION",
	StatusInvalidKernel:                "CL_INVALID_KERNEL",
	StatusInvalidArgIndex:              "CL_INVALID_ARG_INDEX",
	StatusInvalidArgValue:              "CL_INVALID_ARG_VALUE",
	StatusInvalidArgSize:               "CL_INVALID_ARG_SIZE",
	StatusInvalidKernelArgs:            "CL_INVALID_KERNEL_ARGS",
	StatusInvalidWorkDimension:         "CL_INVALID_WORK_DIMENSION",
	StatusInvalidWorkGroupSize:         "CL_INVALID_WORK_GROUP_SIZE",
	StatusInvalidWorkItemSize:          "CL_INVALID_WORK_ITEM_SIZE",
	StatusInvalidGlobalOffset:          "CL_INVALID_GLOBAL_OFFSET",
	StatusInvalidEventWaitList:         "CL_INVALID_EVENT_WAIT_LIST",
	StatusInvalidEvent:                 "CL_INVALID_EVENT",
	StatusInvalidOperation:             "CL_INVALID_OPERATION",
	StatusInvalidGLObject:              "CL_INVALID_GL_OBJECT",
	StatusInvalidBufferSize:            "CL_INVALID_BUFFER_SIZE",
	StatusInvalidMipLevel:              "CL_INVALID_MIP_LEVEL",
	StatusInvalidGlobalWorkSize:        "CL_INVALID_GLOBAL_WORK_SIZE",
	StatusInvalidProperty:              "CL_INVALID_PROPERTY",
	StatusPlatformNotFound:             "CL_PLATFORM_NOT_FOUND_KHR",
}

// String returns the OpenCL name of the status, e.g. "CL_INVALID_VALUE".
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "CL_UNKNOWN_ERROR(" + strconv.Itoa(int(s)) + ")"
}
